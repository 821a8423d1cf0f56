package interchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
)

var (
	validDocumentTypes = map[string]bool{DocumentTypeCourseExport: true, DocumentTypeSCL: true}

	thumbnailExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true}
	syllabusExtensions  = map[string]bool{"pdf": true, "txt": true, "md": true, "docx": true, "doc": true}

	ignoredArchiveNames = []string{courseFileName, ".DS_Store", "_MACOSX"}
)

// maximum depth of a course tree: root, module, section, unit
const maxNodeLevel = 3

// ImportRepository is the write side of the course repository used by imports.
type ImportRepository interface {
	GetCourse(ctx context.Context, filter course.GetFilter, exec ...core.DBExecutor) (course.Course, error)
	CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error)
	UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error)
	CreateNode(ctx context.Context, n course.Node, exec ...core.DBExecutor) (course.Node, error)
	CreateUnit(ctx context.Context, u course.Unit, exec ...core.DBExecutor) (course.Unit, error)
	CreateBlock(ctx context.Context, b course.Block, exec ...core.DBExecutor) (course.Block, error)
	GetBlockByUUID(ctx context.Context, uuid string, exec ...core.DBExecutor) (course.Block, error)
	CreateUnitBlock(ctx context.Context, ub course.UnitBlock, exec ...core.DBExecutor) (course.UnitBlock, error)
	CreateResource(ctx context.Context, r course.Resource, exec ...core.DBExecutor) (course.Resource, error)
	GetResourceByUUID(ctx context.Context, uuid string, exec ...core.DBExecutor) (course.Resource, error)
	LinkBlockResource(ctx context.Context, blockID, resourceID int64, exec ...core.DBExecutor) error
	LinkCourseResource(ctx context.Context, courseID, resourceID int64, exec ...core.DBExecutor) error
}

// ProgressFunc receives the completion percentage of an import and what it is doing.
type ProgressFunc func(percent int, message string)

type ImportOptions struct {
	// Config overrides the import_config of the document.
	Config *ImportConfig
	// Progress, when set, is called as the import moves forward.
	Progress ProgressFunc
	// Cancelled is polled between nodes; the import is rolled back as soon as it returns true.
	Cancelled func() bool
}

func (opts ImportOptions) report(percent int, message string) {
	if opts.Progress != nil {
		opts.Progress(percent, message)
	}
}

func (opts ImportOptions) checkCancelled() error {
	if opts.Cancelled != nil && opts.Cancelled() {
		return ErrCancelled
	}
	return nil
}

type Importer struct {
	repo   ImportRepository
	txr    core.Transactor
	files  core.FileStore
	logger core.Logger
}

func NewImporter(repo ImportRepository, txr core.Transactor, files core.FileStore, logger core.Logger) *Importer {
	return &Importer{repo: repo, txr: txr, files: files, logger: logger}
}

// archivedResource is a resource file found in an import archive.
type archivedResource struct {
	typ  course.ResourceType // empty for course resources
	file *zip.File
	used bool
}

// importRun holds the state of one import.
type importRun struct {
	*Importer
	ctx    context.Context
	exec   core.DBExecutor
	opts   ImportOptions
	config ImportConfig
	course course.Course

	units     map[string]course.Unit     // by document uuid
	blocks    map[string]course.Block    // by uuid
	resources map[string]course.Resource // by uuid
	archived  map[string]*archivedResource
	saved     []string // stored files, removed if the import fails
	counts    map[course.NodeType]int
}

// ImportCourseFromJSON creates a course from a course.json document. Empty slug, run or displayName keep
// the values of the document.
func (imp *Importer) ImportCourseFromJSON(ctx context.Context, data []byte, slug, run, displayName string, opts ImportOptions) (course.Course, error) {
	doc, err := DecodeDocument(data)
	if err != nil {
		return course.Course{}, err
	}
	return imp.importDocument(ctx, doc, slug, run, displayName, nil, opts)
}

// ImportCourseFromArchive creates a course from an internal export archive: course.json along with its
// catalog, course and block resource files.
func (imp *Importer) ImportCourseFromArchive(ctx context.Context, r io.ReaderAt, size int64, slug, run, displayName string, opts ImportOptions) (course.Course, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return course.Course{}, pkgerrors.Wrap(err, "opening archive")
	}

	var courseFile *zip.File
	for _, zf := range zr.File {
		if zf.Name == courseFileName {
			courseFile = zf
			break
		}
	}
	if courseFile == nil {
		return course.Course{}, ErrMissingCourseFile
	}
	opts.report(10, "Reading course.json")
	data, err := readZipFile(courseFile)
	if err != nil {
		return course.Course{}, err
	}

	doc, err := DecodeDocument(data)
	if err != nil {
		return course.Course{}, err
	}
	if doc.DocumentType == "" {
		return course.Course{}, ErrMissingDocumentType
	}
	imp.logger.Info(fmt.Sprintf(
		"importing a course exported in format %s, exporter version %s, export date %s",
		doc.DocumentType, doc.Metadata.ExporterVersion, doc.Metadata.ExportDate,
	))
	return imp.importDocument(ctx, doc, slug, run, displayName, zr.File, opts)
}

// DecodeDocument parses course.json, validating its document type and rewriting legacy documents
// into the current schema. A bare course object (no document envelope) is accepted.
func DecodeDocument(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, ErrEmptyDocument
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, core.NewFieldValidationError("course", "invalid course json: "+err.Error())
	}
	if len(raw) == 0 {
		return Document{}, ErrEmptyDocument
	}

	docType, _ := raw["document_type"].(string)
	if docType != "" && !validDocumentTypes[docType] {
		return Document{}, pkgerrors.Wrap(ErrInvalidDocumentType, docType)
	}
	if docType == DocumentTypeSCL {
		if err := preprocessSCL(raw); err != nil {
			return Document{}, err
		}
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return Document{}, pkgerrors.Wrap(err, "encoding preprocessed document")
		}
	}
	if _, enveloped := raw["course"]; !enveloped {
		var crs CourseDoc
		if err := json.Unmarshal(data, &crs); err != nil {
			return Document{}, core.NewFieldValidationError("course", "invalid course json: "+err.Error())
		}
		return Document{DocumentType: docType, Course: crs}, nil
	}
	return decodeEnvelope(data, docType)
}

func decodeEnvelope(data []byte, docType string) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, core.NewFieldValidationError("course", "invalid course json: "+err.Error())
	}
	doc.DocumentType = docType
	return doc, nil
}

func readZipFile(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "opening %s", zf.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	return data, pkgerrors.Wrapf(err, "reading %s", zf.Name)
}

// importDocument runs both import passes in a single transaction.
// Pass 1 creates the course and its catalog with a detached root, pass 2 walks the node tree.
func (imp *Importer) importDocument(
	ctx context.Context, doc Document, slug, run, displayName string, archive []*zip.File, opts ImportOptions,
) (course.Course, error) {
	crs := doc.Course
	if slug != "" {
		crs.Slug = slug
	}
	if run != "" {
		crs.Run = run
	}
	if displayName != "" {
		crs.DisplayName = displayName
	}
	if crs.Slug == "" || crs.Run == "" {
		return course.Course{}, core.NewValidationError(
			pkgerrors.New("course slug and run are required"),
			core.FieldError{Field: "slug", Error: "required"}, core.FieldError{Field: "run", Error: "required"},
		)
	}
	if crs.RootNode == nil {
		return course.Course{}, core.NewFieldValidationError("course_root_node", "course json has no course_root_node")
	}

	run2 := &importRun{
		Importer:  imp,
		ctx:       ctx,
		opts:      opts,
		config:    ImportConfig{}.merge(crs.ImportConfig).merge(opts.Config),
		units:     make(map[string]course.Unit),
		blocks:    make(map[string]course.Block),
		resources: make(map[string]course.Resource),
		archived:  make(map[string]*archivedResource),
		counts:    make(map[course.NodeType]int),
	}

	err := imp.txr.RunInTx(ctx, func(exec core.DBExecutor) error {
		run2.exec = exec
		return run2.execute(crs, archive)
	})
	if err != nil {
		if len(run2.saved) > 0 {
			if derr := imp.files.Delete(run2.saved...); derr != nil {
				imp.logger.Error(fmt.Sprintf("could not clean up files of failed import. FAILING SILENTLY: %v", derr), derr)
			}
		}
		return course.Course{}, err
	}

	for typ, n := range run2.counts {
		importedNodes.WithLabelValues(string(typ)).Add(float64(n))
	}
	opts.report(100, "Import complete")
	return run2.course, nil
}

func (r *importRun) execute(crs CourseDoc, archive []*zip.File) error {
	_, err := r.repo.GetCourse(r.ctx, course.GetFilter{Slug: crs.Slug, Run: crs.Run}, r.exec)
	switch {
	case err == nil:
		return pkgerrors.Wrapf(ErrCourseExists, "%s_%s", crs.Slug, crs.Run)
	case pkgerrors.Cause(err) != course.ErrNotFound:
		return pkgerrors.Wrap(err, "checking existing course")
	}

	catalogFiles, err := r.indexArchive(crs, archive)
	if err != nil {
		return err
	}

	r.opts.report(20, "Creating course")
	if err := r.createCourse(crs, catalogFiles); err != nil {
		return err
	}
	if err := r.opts.checkCancelled(); err != nil {
		return err
	}

	counts := crs.RootNode.CountNodes()
	r.opts.report(50, fmt.Sprintf(
		"Importing %d modules, %d sections and %d units",
		counts[course.NodeTypeModule], counts[course.NodeTypeSection], counts[course.NodeTypeUnit],
	))
	root, err := r.createNode(crs.RootNode, nil, 0, nil)
	if err != nil {
		return err
	}
	r.course.RootNodeID = &root.ID
	if r.course, err = r.repo.UpdateCourse(r.ctx, r.course, r.exec); err != nil {
		return pkgerrors.Wrap(err, "attaching course root node")
	}

	r.opts.report(70, "Loading course resources")
	for _, rd := range crs.CourseResources {
		res, err := r.resource(rd)
		if err != nil {
			return err
		}
		if err := r.repo.LinkCourseResource(r.ctx, r.course.ID, res.ID, r.exec); err != nil {
			return pkgerrors.Wrap(err, "linking course resource")
		}
	}
	if err := r.opts.checkCancelled(); err != nil {
		return err
	}

	r.opts.report(90, "Checking course resources")
	for id, ar := range r.archived {
		if !ar.used {
			r.logger.Warn(fmt.Sprintf("import %s: archived file %s (resource %s) is not referenced by the course", r.course.Token(), ar.file.Name, id))
		}
	}
	for _, res := range r.resources {
		if res.Path == "" {
			r.logger.Error(fmt.Sprintf("import %s: resource file not found for resource %s", r.course.Token(), res.UUID))
		}
	}
	return nil
}

// indexArchive sorts the files of the archive by kind and validates their paths.
// It returns the catalog files by kind ("thumbnail", "syllabus").
func (r *importRun) indexArchive(crs CourseDoc, archive []*zip.File) (map[string]*zip.File, error) {
	catalog := make(map[string]*zip.File)
	for _, zf := range archive {
		if zf.FileInfo().IsDir() || isIgnoredArchiveFile(zf.Name) {
			continue
		}
		parts := strings.Split(zf.Name, "/")
		switch parts[0] {
		case "course_resources":
			if len(parts) < 3 {
				return nil, &InvalidFileError{Path: zf.Name, Reason: "expected course_resources/<uuid>/<file>"}
			}
			r.archived[parts[1]] = &archivedResource{file: zf}
		case "block_resources":
			if len(parts) < 4 {
				return nil, &InvalidFileError{Path: zf.Name, Reason: "expected block_resources/<type>/<uuid>/<file>"}
			}
			typ := course.ResourceType(strings.ToUpper(parts[1]))
			if !typ.IsValid() {
				return nil, &InvalidFileError{Path: zf.Name, Reason: "unknown resource type " + parts[1]}
			}
			r.archived[parts[2]] = &archivedResource{typ: typ, file: zf}
		case "catalog", "catalog_resources":
			if len(parts) < 3 {
				return nil, &InvalidFileError{Path: zf.Name, Reason: "expected catalog_resources/<kind>/<file>"}
			}
			ext := strings.ToLower(strings.TrimPrefix(path.Ext(zf.Name), "."))
			switch parts[1] {
			case "thumbnail":
				if !thumbnailExtensions[ext] {
					return nil, &InvalidFileError{Path: zf.Name, Reason: "invalid course thumbnail file extension: " + ext}
				}
				catalog["thumbnail"] = zf
			case "syllabus":
				if !syllabusExtensions[ext] {
					return nil, &InvalidFileError{Path: zf.Name, Reason: "invalid course syllabus file extension: " + ext}
				}
				catalog["syllabus"] = zf
			default:
				r.logger.Warn(fmt.Sprintf("import %s_%s: unknown catalog resources file %s", crs.Slug, crs.Run, zf.Name))
			}
		default:
			return nil, &InvalidFileError{Path: zf.Name, Reason: "unknown file path"}
		}
	}
	return catalog, nil
}

func isIgnoredArchiveFile(name string) bool {
	for _, ignored := range ignoredArchiveNames {
		if strings.Contains(name, ignored) {
			return true
		}
	}
	return false
}

// store saves the content of zf under dir and returns the stored path.
func (r *importRun) store(dir string, zf *zip.File) (string, []byte, error) {
	data, err := readZipFile(zf)
	if err != nil {
		return "", nil, err
	}
	p := path.Join(dir, path.Base(zf.Name))
	if _, err := r.files.Save(p, bytes.NewReader(data)); err != nil {
		return "", nil, pkgerrors.Wrapf(err, "saving %s", zf.Name)
	}
	r.saved = append(r.saved, p)
	return p, data, nil
}

func (r *importRun) createCourse(crs CourseDoc, catalogFiles map[string]*zip.File) error {
	now := core.Now()
	c := course.Course{
		Slug:                crs.Slug,
		Run:                 crs.Run,
		DisplayName:         crs.DisplayName,
		ShortName:           crs.ShortName,
		StartDate:           crs.StartDate,
		EndDate:             crs.EndDate,
		EnrollmentStartDate: crs.EnrollmentStartDate,
		EnrollmentEndDate:   crs.EnrollmentEndDate,
		SelfPaced:           crs.SelfPaced,
		DaysEarlyForBeta:    crs.DaysEarlyForBeta,
		AdminOnlyEnrollment: crs.AdminOnlyEnrollment,
		EnableCertificates:  crs.EnableCertificates,
		EnableForum:         crs.EnableForum,
		EnableSurveys:       crs.EnableSurveys,
		ContentLicense:      crs.ContentLicense,
		ContentLicenseURL:   crs.ContentLicenseURL,
		Catalog:             &course.CatalogDescription{Title: crs.DisplayName, Visible: true},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if cat := crs.Catalog; cat != nil {
		c.Catalog = &course.CatalogDescription{
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

	catalogDir := path.Join("catalog", c.Token())
	if zf, ok := catalogFiles["thumbnail"]; ok {
		p, data, err := r.store(path.Join(catalogDir, "thumbnail"), zf)
		if err != nil {
			return err
		}
		if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
			return &InvalidFileError{Path: zf.Name, Reason: "course thumbnail is not an image: " + mt.String()}
		}
		c.Catalog.ThumbnailPath = p
	}
	if zf, ok := catalogFiles["syllabus"]; ok {
		p, _, err := r.store(path.Join(catalogDir, "syllabus"), zf)
		if err != nil {
			return err
		}
		c.Catalog.SyllabusPath = p
	}

	created, err := r.repo.CreateCourse(r.ctx, c, r.exec)
	if err != nil {
		return pkgerrors.Wrap(err, "creating course")
	}
	r.course = created
	return nil
}

// createNode creates nd below parent, then its unit and its children. level is 0 for the root.
// contentIndex, when set, replaces the content index of the document.
func (r *importRun) createNode(nd *NodeDoc, parent *course.Node, level int, contentIndex *int) (*course.Node, error) {
	if err := r.opts.checkCancelled(); err != nil {
		return nil, err
	}

	node := &course.Node{
		CourseID:        r.course.ID,
		Type:            nd.Type,
		Purpose:         nd.Purpose,
		DisplayName:     nd.DisplayName,
		Slug:            nd.Slug,
		ReleaseDatetime: nd.ReleaseDatetime,
		ContentIndex:    nd.ContentIndex,
		DisplaySequence: nd.DisplaySequence,
	}
	if parent == nil {
		node.Type = course.NodeTypeRoot
		node.DisplayName = r.course.Token()
		node.Slug = r.course.Token()
		node.ReleaseDatetime = nil
		node.ContentIndex = nil
	} else {
		if nd.ID != nil {
			return nil, &InvalidNodeError{Slug: nd.Slug, Reason: "incoming course nodes cannot have an 'id' property"}
		}
		if nd.Parent != nil {
			return nil, &InvalidNodeError{Slug: nd.Slug, Reason: "incoming course nodes cannot have a 'parent' property"}
		}
		if node.Type.ParentType() != parent.Type {
			return nil, &InvalidNodeError{Slug: nd.Slug, Reason: fmt.Sprintf("a %s cannot be a child of a %s", node.Type.Level(), parent.Type.Level())}
		}
		node.ParentID = &parent.ID
		if contentIndex != nil {
			node.ContentIndex = contentIndex
		}
		if nd.Unit != nil {
			if node.Type != course.NodeTypeUnit {
				return nil, &InvalidNodeError{Slug: nd.Slug, Reason: "only nodes of type UNIT can define a 'unit' object"}
			}
			unit, err := r.unit(nd.Unit)
			if err != nil {
				return nil, err
			}
			node.UnitID = &unit.ID
		}
	}
	if err := node.Clean(parent); err != nil {
		return nil, pkgerrors.Wrapf(err, "validating node %q", nd.Slug)
	}

	created, err := r.repo.CreateNode(r.ctx, *node, r.exec)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "creating node %q", nd.Slug)
	}
	r.counts[created.Type]++

	if level+1 > maxNodeLevel && len(nd.Children) > 0 {
		r.logger.Warn(fmt.Sprintf("import %s: ignoring %d nodes nested below unit %q", r.course.Token(), len(nd.Children), nd.Slug))
		return &created, nil
	}

	start := r.config.childStartIndex(created.Type)
	slugs := make(map[string]bool, len(nd.Children))
	for i, child := range nd.Children {
		if slugs[child.Slug] {
			return nil, &InvalidNodeError{Slug: child.Slug, Reason: "a sibling node already uses this slug"}
		}
		slugs[child.Slug] = true

		var idx *int
		if start != 0 {
			idx = core.IntPtr(start + i)
		}
		// document order governs sibling order
		child.DisplaySequence = i
		if _, err := r.createNode(child, &created, level+1, idx); err != nil {
			return nil, err
		}
	}
	return &created, nil
}

// unit creates the unit of the document once, UNIT nodes sharing a unit uuid share the created unit.
// Created units always get a new uuid.
func (r *importRun) unit(ud *UnitDoc) (course.Unit, error) {
	if ud.UUID != "" {
		if u, ok := r.units[ud.UUID]; ok {
			return u, nil
		}
	}
	unitType := ud.Type
	if unitType == "" {
		unitType = course.UnitTypeStandard
	}
	u, err := r.repo.CreateUnit(r.ctx, course.Unit{
		CourseID:         r.course.ID,
		UUID:             uuid.NewString(),
		Slug:             ud.Slug,
		DisplayName:      ud.DisplayName,
		Type:             unitType,
		ShortDescription: ud.ShortDescription,
		HTMLContent:      ud.HTMLContent,
		JSONContent:      rawJSON(ud.JSONContent),
	}, r.exec)
	if err != nil {
		return course.Unit{}, pkgerrors.Wrapf(err, "creating unit %q", ud.Slug)
	}

	for i, ubd := range ud.UnitBlocks {
		block, err := r.block(ubd.Block)
		if err != nil {
			return course.Unit{}, err
		}
		order := ubd.BlockOrder
		if order == 0 {
			order = i
		}
		ub, err := r.repo.CreateUnitBlock(r.ctx, course.UnitBlock{
			UnitID:     u.ID,
			BlockID:    block.ID,
			BlockOrder: order,
			Hidden:     ubd.Hidden,
			ReadOnly:   ubd.ReadOnly,
			Block:      block,
		}, r.exec)
		if err != nil {
			return course.Unit{}, pkgerrors.Wrapf(err, "adding block to unit %q", ud.Slug)
		}
		u.UnitBlocks = append(u.UnitBlocks, ub)
	}

	if ud.UUID != "" {
		r.units[ud.UUID] = u
	}
	return u, nil
}

// block links an existing block with the same uuid or creates it along with its resources.
func (r *importRun) block(bd BlockDoc) (course.Block, error) {
	if bd.UUID != "" {
		if b, ok := r.blocks[bd.UUID]; ok {
			return b, nil
		}
		b, err := r.repo.GetBlockByUUID(r.ctx, bd.UUID, r.exec)
		if err == nil {
			r.blocks[bd.UUID] = b
			return b, nil
		} else if pkgerrors.Cause(err) != course.ErrBlockNotFound {
			return course.Block{}, pkgerrors.Wrap(err, "looking up block")
		}
	} else {
		bd.UUID = uuid.NewString()
	}
	if !bd.Type.IsValid() {
		return course.Block{}, core.NewFieldValidationError("type", fmt.Sprintf("block %s has an invalid type %q", bd.UUID, bd.Type))
	}

	content := rawJSON(bd.JSONContent)
	switch {
	case bd.SurveyBlock != nil:
		data, err := json.Marshal(map[string]interface{}{"survey_block": bd.SurveyBlock})
		if err != nil {
			return course.Block{}, pkgerrors.Wrap(err, "encoding survey block")
		}
		content = data
	case len(content) == 0 && len(bd.Assessment) > 0:
		content = rawJSON(bd.Assessment)
	}

	b, err := r.repo.CreateBlock(r.ctx, course.Block{
		UUID:        bd.UUID,
		Type:        bd.Type,
		Slug:        bd.Slug,
		DisplayName: bd.DisplayName,
		HTMLContent: bd.HTMLContent,
		JSONContent: content,
		Graded:      bd.Graded,
		MaxScore:    bd.MaxScore,
		Solution:    bd.Solution,
	}, r.exec)
	if err != nil {
		return course.Block{}, pkgerrors.Wrapf(err, "creating block %s", bd.UUID)
	}

	for _, rd := range bd.Resources {
		res, err := r.resource(rd)
		if err != nil {
			return course.Block{}, err
		}
		if err := r.repo.LinkBlockResource(r.ctx, b.ID, res.ID, r.exec); err != nil {
			return course.Block{}, pkgerrors.Wrap(err, "linking block resource")
		}
		b.Resources = append(b.Resources, res)
	}
	r.blocks[b.UUID] = b
	return b, nil
}

// resource gets or creates the resource of the document, storing its archived file when the resource
// has none yet.
func (r *importRun) resource(rd ResourceDoc) (course.Resource, error) {
	if rd.UUID == "" {
		return course.Resource{}, core.NewFieldValidationError("uuid", "resource is missing its uuid")
	}
	if res, ok := r.resources[rd.UUID]; ok {
		return res, nil
	}
	ar := r.archived[rd.UUID]
	if ar != nil {
		ar.used = true
		if ar.typ != "" && rd.Type != "" && ar.typ != rd.Type {
			return course.Resource{}, &InvalidFileError{
				Path:   ar.file.Name,
				Reason: fmt.Sprintf("resource type mismatch: archived as %s, declared as %s", ar.typ, rd.Type),
			}
		}
	}

	res, err := r.repo.GetResourceByUUID(r.ctx, rd.UUID, r.exec)
	switch {
	case err == nil:
		if rd.Type != "" && res.Type != rd.Type {
			return course.Resource{}, &InvalidFileError{
				Path: rd.FileName,
				Reason: fmt.Sprintf(
					"resource type mismatch: resource %s already exists with type %s, not %s", rd.UUID, res.Type, rd.Type,
				),
			}
		}
		if ar != nil && res.Path != "" {
			if ok, err := r.files.Exists(res.Path); err == nil && !ok {
				r.logger.Info(fmt.Sprintf("import: replacing missing file %s of resource %s", res.Path, res.UUID))
				if _, _, err := r.store(path.Dir(res.Path), ar.file); err != nil {
					return course.Resource{}, err
				}
			}
		}
	case pkgerrors.Cause(err) == course.ErrResourceNotFound:
		res = course.Resource{UUID: rd.UUID, Type: rd.Type, FileName: rd.FileName}
		if ar != nil {
			p, data, err := r.store(path.Join("resources", rd.UUID), ar.file)
			if err != nil {
				return course.Resource{}, err
			}
			res.Path = p
			if res.FileName == "" {
				res.FileName = path.Base(p)
			}
			if res.Type == "" {
				res.Type = ar.typ
			}
			if res.Type == "" {
				res.Type = DetectResourceType(data)
			}
		}
		if res.Type == "" {
			res.Type = course.ResourceTypeGeneric
		}
		if res, err = r.repo.CreateResource(r.ctx, res, r.exec); err != nil {
			return course.Resource{}, pkgerrors.Wrap(err, "creating resource")
		}
	default:
		return course.Resource{}, pkgerrors.Wrap(err, "looking up resource")
	}
	r.resources[rd.UUID] = res
	return res, nil
}

// DetectResourceType classifies a resource file from its content.
func DetectResourceType(data []byte) course.ResourceType {
	mt := mimetype.Detect(data)
	switch {
	case strings.HasPrefix(mt.String(), "image/"):
		return course.ResourceTypeImage
	case mt.Is("text/csv"):
		return course.ResourceTypeCSV
	case mt.Is("application/vnd.sqlite3"):
		return course.ResourceTypeSQLite
	case mt.Is("application/x-ipynb+json"):
		return course.ResourceTypeJupyterNotebook
	}
	return course.ResourceTypeGeneric
}

func rawJSON(data json.RawMessage) []byte {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return data
}
