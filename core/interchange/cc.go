package interchange

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html/template"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	"github.com/klauspost/compress/zip"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
)

const (
	ccVersion         = "1.3.0"
	ccManifestFile    = "imsmanifest.xml"
	ccWebResourcesDir = "web_resources"
	ccFileBase        = "$IMS-CC-FILEBASE$"
)

// CCNamespaces are declared on the manifest root, by prefix. The empty prefix is the default namespace.
var CCNamespaces = map[string]string{
	"":            "http://www.imsglobal.org/xsd/imsccv1p3/imscp_v1p1",
	"lom":         "http://ltsc.ieee.org/xsd/imsccv1p3/LOM/resource",
	"lomimscc":    "http://ltsc.ieee.org/xsd/imsccv1p3/LOM/manifest",
	"xsi":         "http://www.w3.org/2001/XMLSchema-instance",
	"csmd":        "http://www.imsglobal.org/xsd/imsccv1p3/csmd_v1p0",
	"qtimetadata": "http://www.imsglobal.org/xsd/ims_qtiasiv1p2",
}

// CCSchemaLocations pairs each namespace with its schema, in xsi:schemaLocation order.
var CCSchemaLocations = [][2]string{
	{"http://www.imsglobal.org/xsd/imsccv1p3/imscp_v1p1", "http://www.imsglobal.org/profile/cc/ccv1p3/ccv1p3_imscp_v1p2_v1p0.xsd"},
	{"http://ltsc.ieee.org/xsd/imsccv1p3/LOM/resource", "http://www.imsglobal.org/profile/cc/ccv1p3/LOM/ccv1p3_lomresource_v1p0.xsd"},
	{"http://ltsc.ieee.org/xsd/imsccv1p3/LOM/manifest", "http://www.imsglobal.org/profile/cc/ccv1p3/LOM/ccv1p3_lommanifest_v1p0.xsd"},
	{"http://www.imsglobal.org/xsd/imsccv1p3/csmd_v1p0", "http://www.imsglobal.org/profile/cc/ccv1p3/ccv1p3_csmd_v1p0.xsd"},
	{"http://www.imsglobal.org/xsd/ims_qtiasiv1p2", "http://www.imsglobal.org/profile/cc/ccv1p3/ims_qtiasiv1p2.xsd"},
}

type (
	ccManifest struct {
		XMLName       xml.Name        `xml:"manifest"`
		Namespaces    []xml.Attr      `xml:",any,attr"`
		Identifier    string          `xml:"identifier,attr"`
		Version       string          `xml:"version,attr"`
		Metadata      ccMetadata      `xml:"metadata"`
		Organizations ccOrganizations `xml:"organizations"`
		Resources     ccResources     `xml:"resources"`
	}

	ccLangString struct {
		Language string `xml:"language,attr,omitempty"`
		Value    string `xml:",chardata"`
	}

	ccVocabulary struct {
		Source string `xml:"lomimscc:source"`
		Value  string `xml:"lomimscc:value"`
	}

	ccMetadata struct {
		Schema        string `xml:"schema"`
		SchemaVersion string `xml:"schemaversion"`
		LOM           ccLOM  `xml:"lomimscc:lom"`
	}

	ccLOM struct {
		Title               ccLangString `xml:"lomimscc:general>lomimscc:title>lomimscc:string"`
		Description         ccLangString `xml:"lomimscc:general>lomimscc:description>lomimscc:string"`
		Language            string       `xml:"lomimscc:general>lomimscc:language"`
		Format              string       `xml:"lomimscc:technical>lomimscc:format"`
		ResourceType        ccVocabulary `xml:"lomimscc:educational>lomimscc:learningResourceType"`
		CopyrightRestricted ccVocabulary `xml:"lomimscc:rights>lomimscc:copyrightAndOtherRestrictions"`
		Rights              ccLangString `xml:"lomimscc:rights>lomimscc:description>lomimscc:string"`
	}

	ccOrganizations struct {
		Default      string         `xml:"default,attr"`
		Organization ccOrganization `xml:"organization"`
	}

	ccOrganization struct {
		Identifier string `xml:"identifier,attr"`
		Structure  string `xml:"structure,attr"`
		Item       ccItem `xml:"item"`
	}

	ccItem struct {
		Identifier    string   `xml:"identifier,attr"`
		IdentifierRef string   `xml:"identifierref,attr,omitempty"`
		IsVisible     string   `xml:"isvisible,attr,omitempty"`
		Title         string   `xml:"title"`
		Items         []ccItem `xml:"item"`
	}

	ccResources struct {
		Resources []ccResource `xml:"resource"`
	}

	ccResource struct {
		Identifier   string         `xml:"identifier,attr"`
		Type         string         `xml:"type,attr"`
		Href         string         `xml:"href,attr,omitempty"`
		Files        []ccFile       `xml:"file"`
		Dependencies []ccDependency `xml:"dependency"`
	}

	ccFile struct {
		Href string `xml:"href,attr"`
	}

	ccDependency struct {
		IdentifierRef string `xml:"identifierref,attr"`
	}
)

var ccBlockPage = template.Must(template.New("block").Parse(`<html>
<head>
<meta http-equiv="Content-Type" content="text/html; charset=utf-8">
<meta name="identifier" content="{{.UUID}}" />
<meta name="editing_roles" content="teachers" />
<meta name="workflow_state" content="active" />
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

var ccVideoBody = template.Must(template.New("video").Parse(
	`<iframe id="ytplayer{{.ID}}" type="text/html" width="640" height="360" src="https://www.youtube.com/embed/{{.VideoID}}"></iframe>`,
))

// ccExport accumulates the manifest and files of a Common Cartridge.
type ccExport struct {
	manifest  ccManifest
	pages     map[string][]byte // archive path: html page
	files     []archiveFile
	resources map[string]bool // written resource identifiers
}

func ccRootAttrs() []xml.Attr {
	prefixes := make([]string, 0, len(CCNamespaces))
	for prefix := range CCNamespaces {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)

	attrs := make([]xml.Attr, 0, len(prefixes)+1)
	for _, prefix := range prefixes {
		name := "xmlns"
		if prefix != "" {
			name += ":" + prefix
		}
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: name}, Value: CCNamespaces[prefix]})
	}

	locations := make([]string, 0, 2*len(CCSchemaLocations))
	for _, loc := range CCSchemaLocations {
		locations = append(locations, loc[0], loc[1])
	}
	return append(attrs, xml.Attr{Name: xml.Name{Local: "xsi:schemaLocation"}, Value: strings.Join(locations, " ")})
}

func (ex *Exporter) writeCommonCartridge(ctx context.Context, snap *snapshot, w io.Writer) error {
	cc, err := newCCExport(snap)
	if err != nil {
		return err
	}
	files, err := ex.readFiles(ctx, cc.files)
	if err != nil {
		return err
	}

	var manifest bytes.Buffer
	manifest.WriteString(xml.Header)
	enc := xml.NewEncoder(&manifest)
	enc.Indent("", "  ")
	if err := enc.Encode(cc.manifest); err != nil {
		return pkgerrors.Wrap(err, "encoding manifest")
	}

	zw := zip.NewWriter(w)
	if err := writeZipFile(zw, ccManifestFile, manifest.Bytes()); err != nil {
		return err
	}
	names := make([]string, 0, len(cc.pages))
	for name := range cc.pages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeZipFile(zw, name, cc.pages[name]); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := writeZipFile(zw, f.name, f.data); err != nil {
			return err
		}
	}
	return pkgerrors.Wrap(zw.Close(), "closing archive")
}

func newCCExport(snap *snapshot) (*ccExport, error) {
	c := snap.course
	cc := &ccExport{pages: make(map[string][]byte), resources: make(map[string]bool)}

	overview, license := "", c.ContentLicense
	if c.Catalog != nil {
		overview = c.Catalog.Overview
	}
	if license == "" {
		license = "( no license defined )"
	}
	lang := core.Conf.LanguageCode
	cc.manifest = ccManifest{
		Namespaces: ccRootAttrs(),
		Identifier: c.Token(),
		Version:    ccVersion,
		Metadata: ccMetadata{
			Schema:        "IMS Common Cartridge",
			SchemaVersion: ccVersion,
			LOM: ccLOM{
				Title:               ccLangString{Language: lang, Value: c.DisplayName},
				Description:         ccLangString{Language: lang, Value: overview},
				Language:            lang,
				Format:              "text/html",
				ResourceType:        ccVocabulary{Source: "LOMv1.0", Value: "Course"},
				CopyrightRestricted: ccVocabulary{Source: "LOMv1.0", Value: "yes"},
				Rights:              ccLangString{Language: lang, Value: license},
			},
		},
		Organizations: ccOrganizations{
			Default: "org_1",
			Organization: ccOrganization{
				Identifier: "org_1",
				Structure:  "rooted-hierarchy",
			},
		},
	}

	rootItem := ccItem{Identifier: "course_root", Title: c.DisplayName}
	for _, module := range snap.root.Children {
		moduleItem := ccItem{Identifier: "module_" + strconv.FormatInt(module.ID, 10), IsVisible: "true", Title: module.DisplayName}
		for _, section := range module.Children {
			sectionItem := ccItem{Identifier: "section_" + strconv.FormatInt(section.ID, 10), IsVisible: "true", Title: section.DisplayName}
			for _, unit := range section.Children {
				unitItem := ccItem{Identifier: "unit_" + strconv.FormatInt(unit.ID, 10), IsVisible: "true", Title: unit.DisplayName}
				if unit.Unit != nil {
					for _, ub := range unit.Unit.UnitBlocks {
						ref, err := cc.addBlock(ub.Block)
						if err != nil {
							return nil, err
						}
						if ref == "" {
							continue
						}
						title := ub.Block.DisplayName
						if title == "" {
							title = string(ub.Block.Type)
						}
						unitItem.Items = append(unitItem.Items, ccItem{
							Identifier:    fmt.Sprintf("unit_block_%d_%d", unit.ID, ub.Block.ID),
							IdentifierRef: ref,
							IsVisible:     "true",
							Title:         title,
						})
					}
				}
				sectionItem.Items = append(sectionItem.Items, unitItem)
			}
			moduleItem.Items = append(moduleItem.Items, sectionItem)
		}
		rootItem.Items = append(rootItem.Items, moduleItem)
	}
	cc.manifest.Organizations.Organization.Item = rootItem
	return cc, nil
}

// addBlock writes the page and files of b once and returns the identifier of its resource.
// It returns "" for block types that have no standalone rendering.
func (cc *ccExport) addBlock(b course.Block) (string, error) {
	id := "block_" + b.UUID
	if cc.resources[id] {
		return id, nil
	}

	var body template.HTML
	switch b.Type {
	case course.BlockTypeHTMLContent, course.BlockTypeCallout:
		body = template.HTML(cc.relativeResourceURLs(b))
	case course.BlockTypeVideo:
		var content struct {
			VideoID string `json:"video_id"`
		}
		if len(b.JSONContent) > 0 {
			_ = json.Unmarshal(b.JSONContent, &content)
		}
		if content.VideoID == "" {
			return "", nil
		}
		var buf bytes.Buffer
		if err := ccVideoBody.Execute(&buf, map[string]interface{}{"ID": b.ID, "VideoID": content.VideoID}); err != nil {
			return "", pkgerrors.Wrap(err, "rendering video block")
		}
		body = template.HTML(buf.String())
	default:
		return "", nil
	}

	title := b.DisplayName
	if title == "" {
		title = string(b.Type)
	}
	pageName := slug.Make(b.DisplayName)
	if pageName == "" {
		pageName = string(b.Type)
	}
	pagePath := b.UUID + "/" + pageName + ".html"
	if !ValidResourcePath(pagePath) {
		return "", &InvalidFileError{Path: pagePath, Reason: "invalid common cartridge resource path"}
	}

	var page bytes.Buffer
	err := ccBlockPage.Execute(&page, map[string]interface{}{"UUID": b.UUID, "Title": title, "Body": body})
	if err != nil {
		return "", pkgerrors.Wrap(err, "rendering block page")
	}
	cc.pages[pagePath] = page.Bytes()

	res := ccResource{Identifier: id, Type: "webcontent", Href: pagePath, Files: []ccFile{{Href: pagePath}}}
	for _, r := range b.Resources {
		if r.Path == "" {
			continue
		}
		res.Dependencies = append(res.Dependencies, ccDependency{IdentifierRef: cc.addResource(r)})
	}
	cc.resources[id] = true
	cc.manifest.Resources.Resources = append(cc.manifest.Resources.Resources, res)
	return id, nil
}

// addResource adds the file of r and its webcontent resource once, however many blocks use it.
func (cc *ccExport) addResource(r course.Resource) string {
	id := "resource_" + r.UUID
	if cc.resources[id] {
		return id
	}
	filePath := ccResourcePath(r)
	cc.resources[id] = true
	cc.files = append(cc.files, archiveFile{name: filePath, path: r.Path})
	cc.manifest.Resources.Resources = append(cc.manifest.Resources.Resources, ccResource{
		Identifier: id,
		Type:       "webcontent",
		Href:       filePath,
		Files:      []ccFile{{Href: filePath}},
	})
	return id
}

// ccResourcePath is web_resources/<resource uuid>/<file name>, the file name slugged when it is not a valid path part.
func ccResourcePath(r course.Resource) string {
	p := path.Join(ccWebResourcesDir, r.UUID, r.FileName)
	if ValidResourcePath(p) {
		return p
	}
	ext := path.Ext(r.FileName)
	name := slug.Make(strings.TrimSuffix(r.FileName, ext))
	if name == "" {
		name = r.UUID
	}
	return path.Join(ccWebResourcesDir, r.UUID, name+strings.ToLower(ext))
}

// relativeResourceURLs points the media URLs of the block resources to their copy in the cartridge.
func (cc *ccExport) relativeResourceURLs(b course.Block) string {
	html := b.HTMLContent
	for _, r := range b.Resources {
		if r.Path == "" {
			continue
		}
		target := `"` + ccFileBase + "/" + ccResourcePath(r) + `"`
		mediaURL := core.Conf.Media.URL + strings.TrimPrefix(r.Path, "/")
		html = strings.NewReplacer(`"`+mediaURL+`"`, target, `'`+mediaURL+`'`, target).Replace(html)
	}
	return html
}
