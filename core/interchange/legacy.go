package interchange

import (
	"archive/tar"
	"context"
	"encoding/xml"
	"io"
	"path"
	"strconv"

	"github.com/klauspost/compress/gzip"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
)

const legacyRootDir = "course"

type (
	olxRef struct {
		URLName string `xml:"url_name,attr"`
	}

	olxCoursePointer struct {
		XMLName xml.Name `xml:"course"`
		URLName string   `xml:"url_name,attr"`
		Org     string   `xml:"org,attr"`
		Course  string   `xml:"course,attr"`
	}

	olxCourse struct {
		XMLName     xml.Name `xml:"course"`
		DisplayName string   `xml:"display_name,attr"`
		Start       string   `xml:"start,attr,omitempty"`
		End         string   `xml:"end,attr,omitempty"`
		SelfPaced   bool     `xml:"self_paced,attr,omitempty"`
		Chapters    []olxRef `xml:"chapter"`
	}

	olxChapter struct {
		XMLName     xml.Name `xml:"chapter"`
		DisplayName string   `xml:"display_name,attr"`
		Start       string   `xml:"start,attr,omitempty"`
		Sequentials []olxRef `xml:"sequential"`
	}

	olxSequential struct {
		XMLName     xml.Name `xml:"sequential"`
		DisplayName string   `xml:"display_name,attr"`
		Start       string   `xml:"start,attr,omitempty"`
		Verticals   []olxRef `xml:"vertical"`
	}

	olxVertical struct {
		XMLName     xml.Name `xml:"vertical"`
		DisplayName string   `xml:"display_name,attr"`
		HTMLs       []olxRef `xml:"html"`
	}

	olxHTML struct {
		XMLName     xml.Name `xml:"html"`
		DisplayName string   `xml:"display_name,attr"`
		Filename    string   `xml:"filename,attr"`
	}
)

// legacyWriter writes an OLX course tree into a gzip compressed tar.
type legacyWriter struct {
	tw      *tar.Writer
	written map[string]bool
}

func (lw *legacyWriter) write(name string, data []byte) error {
	if lw.written[name] {
		return nil
	}
	lw.written[name] = true
	hdr := &tar.Header{
		Name:    path.Join(legacyRootDir, name),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: core.Now(),
	}
	if err := lw.tw.WriteHeader(hdr); err != nil {
		return pkgerrors.Wrapf(err, "adding %s to archive", name)
	}
	_, err := lw.tw.Write(data)
	return pkgerrors.Wrapf(err, "writing %s to archive", name)
}

func (lw *legacyWriter) writeXML(name string, v interface{}) error {
	data, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return pkgerrors.Wrapf(err, "encoding %s", name)
	}
	return lw.write(name, append(data, '\n'))
}

func olxDate(n *course.Node) string {
	if n.ReleaseDatetime == nil {
		return ""
	}
	return n.ReleaseDatetime.UTC().Format("2006-01-02T15:04:05Z")
}

func (ex *Exporter) writeLegacy(_ context.Context, snap *snapshot, w io.Writer) error {
	c := snap.course
	gw := gzip.NewWriter(w)
	lw := &legacyWriter{tw: tar.NewWriter(gw), written: make(map[string]bool)}

	err := lw.writeXML("course.xml", olxCoursePointer{URLName: c.Run, Org: core.Conf.AppName, Course: c.Slug})
	if err != nil {
		return err
	}

	crs := olxCourse{DisplayName: c.DisplayName, SelfPaced: c.SelfPaced}
	if c.StartDate != nil {
		crs.Start = c.StartDate.UTC().Format("2006-01-02T15:04:05Z")
	}
	if c.EndDate != nil {
		crs.End = c.EndDate.UTC().Format("2006-01-02T15:04:05Z")
	}

	for _, module := range snap.root.Children {
		chapterName := "module_" + strconv.FormatInt(module.ID, 10)
		chapter := olxChapter{DisplayName: module.DisplayName, Start: olxDate(module)}
		for _, section := range module.Children {
			seqName := "section_" + strconv.FormatInt(section.ID, 10)
			seq := olxSequential{DisplayName: section.DisplayName, Start: olxDate(section)}
			for _, unit := range section.Children {
				vertName := "unit_" + strconv.FormatInt(unit.ID, 10)
				vert := olxVertical{DisplayName: unit.DisplayName}
				if unit.Unit != nil {
					for _, ub := range unit.Unit.UnitBlocks {
						b := ub.Block
						if b.Type != course.BlockTypeHTMLContent && b.Type != course.BlockTypeCallout {
							continue
						}
						htmlName := "block_" + b.UUID
						vert.HTMLs = append(vert.HTMLs, olxRef{URLName: htmlName})
						if err := lw.writeXML("html/"+htmlName+".xml", olxHTML{DisplayName: b.DisplayName, Filename: htmlName}); err != nil {
							return err
						}
						if err := lw.write("html/"+htmlName+".html", []byte(b.HTMLContent)); err != nil {
							return err
						}
					}
				}
				if err := lw.writeXML("vertical/"+vertName+".xml", vert); err != nil {
					return err
				}
				seq.Verticals = append(seq.Verticals, olxRef{URLName: vertName})
			}
			if err := lw.writeXML("sequential/"+seqName+".xml", seq); err != nil {
				return err
			}
			chapter.Sequentials = append(chapter.Sequentials, olxRef{URLName: seqName})
		}
		if err := lw.writeXML("chapter/"+chapterName+".xml", chapter); err != nil {
			return err
		}
		crs.Chapters = append(crs.Chapters, olxRef{URLName: chapterName})
	}
	if err := lw.writeXML("course/"+c.Run+".xml", crs); err != nil {
		return err
	}

	if err := lw.tw.Close(); err != nil {
		return pkgerrors.Wrap(err, "closing archive")
	}
	return pkgerrors.Wrap(gw.Close(), "compressing archive")
}
