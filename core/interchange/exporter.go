package interchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/klauspost/compress/zip"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
)

const loadConcurrency = 4

// ExportRepository is the read side of the course repository used by exports.
type ExportRepository interface {
	QueryNodes(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]course.Node, error)
	GetUnit(ctx context.Context, id int64, exec ...core.DBExecutor) (course.Unit, error)
	QueryCourseResources(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]course.Resource, error)
}

type Exporter struct {
	repo   ExportRepository
	files  core.FileStore
	logger core.Logger
}

func NewExporter(repo ExportRepository, files core.FileStore, logger core.Logger) *Exporter {
	return &Exporter{repo: repo, files: files, logger: logger}
}

// Filename is the name of the archive Export writes for c.
func Filename(c course.Course, format Format) string {
	switch format {
	case FormatCommonCartridge:
		return fmt.Sprintf("%s_%s_cc_export.imscc", c.Slug, c.Run)
	case FormatLegacy:
		return fmt.Sprintf("%s_%s_export.tar.gz", c.Slug, c.Run)
	}
	return fmt.Sprintf("%s_%s_export.klms", c.Slug, c.Run)
}

// snapshot is a course with its full content loaded.
type snapshot struct {
	course          course.Course
	root            *course.Node
	courseResources []course.Resource
}

// archiveFile is a stored file to copy into an archive.
type archiveFile struct {
	name string // path inside the archive
	path string // path in the file store
	data []byte
}

// Export writes the archive of c in the given format to w.
func (ex *Exporter) Export(ctx context.Context, c course.Course, format Format, w io.Writer) error {
	if !format.IsValid() {
		return ErrUnsupportedFormat
	}
	snap, err := ex.load(ctx, c)
	if err != nil {
		return err
	}

	start := time.Now()
	switch format {
	case FormatCommonCartridge:
		err = ex.writeCommonCartridge(ctx, snap, w)
	case FormatLegacy:
		err = ex.writeLegacy(ctx, snap, w)
	default:
		err = ex.writeInternal(ctx, snap, w)
	}
	if err != nil {
		exportsTotal.WithLabelValues(string(format), "failed").Inc()
		return err
	}
	exportsTotal.WithLabelValues(string(format), "ok").Inc()
	ex.logger.Info(fmt.Sprintf("exported course %s as %s in %s", c.Token(), format, time.Since(start)))
	return nil
}

// load reads the tree of c and every unit it references, units being loaded concurrently.
func (ex *Exporter) load(ctx context.Context, c course.Course) (*snapshot, error) {
	nodes, err := ex.repo.QueryNodes(ctx, c.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying course nodes")
	}
	root, err := course.BuildTree(nodes)
	if err != nil {
		return nil, err
	}

	var unitIDs []int64
	seen := make(map[int64]bool)
	root.Walk(func(n *course.Node) {
		if n.UnitID != nil && !seen[*n.UnitID] {
			seen[*n.UnitID] = true
			unitIDs = append(unitIDs, *n.UnitID)
		}
	})

	units := make([]course.Unit, len(unitIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, id := range unitIDs {
		i, id := i, id
		g.Go(func() error {
			u, err := ex.repo.GetUnit(gctx, id)
			if err != nil {
				return pkgerrors.Wrapf(err, "loading unit %d", id)
			}
			units[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[int64]*course.Unit, len(units))
	for i := range units {
		byID[units[i].ID] = &units[i]
	}
	root.Walk(func(n *course.Node) {
		if n.UnitID != nil {
			n.Unit = byID[*n.UnitID]
		}
	})

	resources, err := ex.repo.QueryCourseResources(ctx, c.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying course resources")
	}
	return &snapshot{course: c, root: root, courseResources: resources}, nil
}

// readFiles loads the content of files from the store concurrently.
// Missing files are logged and dropped from the result.
func (ex *Exporter) readFiles(ctx context.Context, files []archiveFile) ([]archiveFile, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i := range files {
		f := &files[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rc, err := ex.files.Open(f.path)
			if pkgerrors.Cause(err) == core.ErrFileNotFound {
				ex.logger.Warn(fmt.Sprintf("export: file %q is missing, skipping %s", f.path, f.name))
				return nil
			} else if err != nil {
				return err
			}
			defer rc.Close()
			f.data, err = io.ReadAll(rc)
			return pkgerrors.Wrapf(err, "reading %s", f.path)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	loaded := files[:0]
	for _, f := range files {
		if f.data != nil {
			loaded = append(loaded, f)
		}
	}
	return loaded, nil
}

func (ex *Exporter) writeInternal(ctx context.Context, snap *snapshot, w io.Writer) error {
	doc := NewDocument(snap.course, snap.root, snap.courseResources, core.Now())
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "serializing course")
	}

	files, err := ex.readFiles(ctx, internalArchiveFiles(snap))
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	if err := writeZipFile(zw, courseFileName, data); err != nil {
		return err
	}
	for _, f := range files {
		if err := writeZipFile(zw, f.name, f.data); err != nil {
			return err
		}
	}
	return pkgerrors.Wrap(zw.Close(), "closing archive")
}

// internalArchiveFiles lists the stored files of an internal export, each resource exactly once.
func internalArchiveFiles(snap *snapshot) []archiveFile {
	var files []archiveFile
	if cat := snap.course.Catalog; cat != nil {
		if cat.ThumbnailPath != "" {
			files = append(files, archiveFile{name: "catalog_resources/thumbnail/" + path.Base(cat.ThumbnailPath), path: cat.ThumbnailPath})
		}
		if cat.SyllabusPath != "" {
			files = append(files, archiveFile{name: "catalog_resources/syllabus/" + path.Base(cat.SyllabusPath), path: cat.SyllabusPath})
		}
	}

	seen := make(map[string]bool)
	forEachBlock(snap.root, func(_ *course.Node, ub course.UnitBlock) {
		for _, r := range ub.Block.Resources {
			if seen[r.UUID] || r.Path == "" {
				continue
			}
			seen[r.UUID] = true
			files = append(files, archiveFile{name: path.Join("block_resources", string(r.Type), r.UUID, r.FileName), path: r.Path})
		}
	})
	for _, r := range snap.courseResources {
		if seen[r.UUID] || r.Path == "" {
			continue
		}
		seen[r.UUID] = true
		files = append(files, archiveFile{name: path.Join("course_resources", r.UUID, r.FileName), path: r.Path})
	}
	return files
}

// forEachBlock calls fn for every unit block of every UNIT node, in document order.
func forEachBlock(root *course.Node, fn func(unitNode *course.Node, ub course.UnitBlock)) {
	root.Walk(func(n *course.Node) {
		if n.Type != course.NodeTypeUnit || n.Unit == nil {
			return
		}
		for _, ub := range n.Unit.UnitBlocks {
			fn(n, ub)
		}
	})
}

func writeZipFile(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return pkgerrors.Wrapf(err, "adding %s to archive", name)
	}
	_, err = io.Copy(f, bytes.NewReader(data))
	return pkgerrors.Wrapf(err, "writing %s to archive", name)
}

// NewDocument serializes a course and its tree into an internal export document.
func NewDocument(c course.Course, root *course.Node, courseResources []course.Resource, exportedAt time.Time) Document {
	crs := CourseDoc{
		Slug:                c.Slug,
		Run:                 c.Run,
		DisplayName:         c.DisplayName,
		ShortName:           c.ShortName,
		StartDate:           c.StartDate,
		EndDate:             c.EndDate,
		EnrollmentStartDate: c.EnrollmentStartDate,
		EnrollmentEndDate:   c.EnrollmentEndDate,
		SelfPaced:           c.SelfPaced,
		DaysEarlyForBeta:    c.DaysEarlyForBeta,
		AdminOnlyEnrollment: c.AdminOnlyEnrollment,
		EnableCertificates:  c.EnableCertificates,
		EnableForum:         c.EnableForum,
		EnableSurveys:       c.EnableSurveys,
		ContentLicense:      c.ContentLicense,
		ContentLicenseURL:   c.ContentLicenseURL,
		RootNode:            newNodeDoc(root, c),
	}
	if cat := c.Catalog; cat != nil {
		crs.Catalog = &CatalogDoc{
			Title:          cat.Title,
			Blurb:          cat.Blurb,
			Overview:       cat.Overview,
			AboutContent:   cat.AboutContent,
			SidebarContent: cat.SidebarContent,
			Duration:       cat.Duration,
			Effort:         cat.Effort,
			Audience:       cat.Audience,
			Visible:        cat.Visible,
		}
	}
	for _, r := range courseResources {
		crs.CourseResources = append(crs.CourseResources, newResourceDoc(r))
	}
	return Document{
		DocumentType: DocumentTypeCourseExport,
		Metadata: Metadata{
			ExporterVersion: ExporterVersion,
			ExportDate:      exportedAt.UTC().Format(time.RFC3339),
		},
		Course: crs,
	}
}

func newNodeDoc(n *course.Node, c course.Course) *NodeDoc {
	if n == nil {
		return nil
	}
	nd := &NodeDoc{
		Type:            n.Type,
		Purpose:         n.Purpose,
		DisplayName:     n.DisplayName,
		Slug:            n.Slug,
		ReleaseDatetime: n.ReleaseDatetime,
		ContentIndex:    n.ContentIndex,
		DisplaySequence: n.DisplaySequence,
		Children:        make([]*NodeDoc, 0, len(n.Children)),
	}
	if n.Type != course.NodeTypeRoot {
		nd.NodeURL = n.NodeURL(c)
	}
	if n.Unit != nil {
		nd.Unit = newUnitDoc(*n.Unit)
	}
	for _, child := range n.Children {
		nd.Children = append(nd.Children, newNodeDoc(child, c))
	}
	return nd
}

func newUnitDoc(u course.Unit) *UnitDoc {
	ud := &UnitDoc{
		UUID:             u.UUID,
		Slug:             u.Slug,
		DisplayName:      u.DisplayName,
		Type:             u.Type,
		ShortDescription: u.ShortDescription,
		HTMLContent:      u.HTMLContent,
		JSONContent:      json.RawMessage(u.JSONContent),
		UnitBlocks:       make([]UnitBlockDoc, 0, len(u.UnitBlocks)),
	}
	for _, ub := range u.UnitBlocks {
		b := ub.Block
		bd := BlockDoc{
			UUID:        b.UUID,
			Type:        b.Type,
			Slug:        b.Slug,
			DisplayName: b.DisplayName,
			HTMLContent: b.HTMLContent,
			JSONContent: json.RawMessage(b.JSONContent),
			Graded:      b.Graded,
			MaxScore:    b.MaxScore,
			Solution:    b.Solution,
		}
		for _, r := range b.Resources {
			bd.Resources = append(bd.Resources, newResourceDoc(r))
		}
		ud.UnitBlocks = append(ud.UnitBlocks, UnitBlockDoc{
			BlockOrder: ub.BlockOrder,
			Hidden:     ub.Hidden,
			ReadOnly:   ub.ReadOnly,
			Block:      bd,
		})
	}
	return ud
}

func newResourceDoc(r course.Resource) ResourceDoc {
	return ResourceDoc{UUID: r.UUID, Type: r.Type, FileName: r.FileName}
}
