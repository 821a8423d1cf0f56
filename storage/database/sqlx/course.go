package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
)

type (
	catalogRow struct {
		ID             null.Int64  `db:"id"`
		Title          null.String `db:"title"`
		Blurb          null.String `db:"blurb"`
		Overview       null.String `db:"overview"`
		AboutContent   null.String `db:"about_content"`
		SidebarContent null.String `db:"sidebar_content"`
		Duration       null.String `db:"duration"`
		Effort         null.String `db:"effort"`
		Audience       null.String `db:"audience"`
		ThumbnailPath  null.String `db:"thumbnail_path"`
		SyllabusPath   null.String `db:"syllabus_path"`
		Visible        null.Bool   `db:"visible"`
	}

	courseRow struct {
		ID                  int64      `db:"id"`
		Slug                string     `db:"slug"`
		Run                 string     `db:"run"`
		DisplayName         string     `db:"display_name"`
		ShortName           string     `db:"short_name"`
		StartDate           null.Time  `db:"start_date"`
		EndDate             null.Time  `db:"end_date"`
		EnrollmentStartDate null.Time  `db:"enrollment_start_date"`
		EnrollmentEndDate   null.Time  `db:"enrollment_end_date"`
		SelfPaced           bool       `db:"self_paced"`
		DaysEarlyForBeta    int        `db:"days_early_for_beta"`
		AdminOnlyEnrollment bool       `db:"admin_only_enrollment"`
		EnableCertificates  bool       `db:"enable_certificates"`
		EnableForum         bool       `db:"enable_forum"`
		EnableSurveys       bool       `db:"enable_surveys"`
		ContentLicense      string     `db:"content_license"`
		ContentLicenseURL   string     `db:"content_license_url"`
		RootNodeID          null.Int64 `db:"root_node_id"`
		CreatedAt           time.Time  `db:"created_at"`
		UpdatedAt           time.Time  `db:"updated_at"`
		Catalog             catalogRow `db:"catalog"`
	}

	unitSummaryRow struct {
		ID               null.Int64  `db:"id"`
		UUID             null.String `db:"uuid"`
		Slug             null.String `db:"slug"`
		DisplayName      null.String `db:"display_name"`
		Type             null.String `db:"type"`
		ShortDescription null.String `db:"short_description"`
		HTMLContent      null.String `db:"html_content"`
		JSONContent      null.JSON   `db:"json_content"`
	}

	nodeRow struct {
		ID              int64          `db:"id"`
		CourseID        int64          `db:"course_id"`
		ParentID        null.Int64     `db:"parent_id"`
		Type            string         `db:"type"`
		Purpose         string         `db:"purpose"`
		DisplayName     string         `db:"display_name"`
		Slug            string         `db:"slug"`
		ReleaseDatetime null.Time      `db:"release_datetime"`
		ContentIndex    null.Int       `db:"content_index"`
		DisplaySequence int            `db:"display_sequence"`
		UnitID          null.Int64     `db:"unit_id"`
		Unit            unitSummaryRow `db:"unit"`
	}

	unitRow struct {
		ID               int64     `db:"id"`
		CourseID         int64     `db:"course_id"`
		UUID             string    `db:"uuid"`
		Slug             string    `db:"slug"`
		DisplayName      string    `db:"display_name"`
		Type             string    `db:"type"`
		ShortDescription string    `db:"short_description"`
		HTMLContent      string    `db:"html_content"`
		JSONContent      null.JSON `db:"json_content"`
	}

	blockRow struct {
		ID          int64     `db:"id"`
		UUID        string    `db:"uuid"`
		Type        string    `db:"type"`
		Slug        string    `db:"slug"`
		DisplayName string    `db:"display_name"`
		HTMLContent string    `db:"html_content"`
		JSONContent null.JSON `db:"json_content"`
		Graded      bool      `db:"graded"`
		MaxScore    int       `db:"max_score"`
		Solution    string    `db:"solution"`
	}

	unitBlockRow struct {
		ID         int64    `db:"id"`
		UnitID     int64    `db:"unit_id"`
		BlockID    int64    `db:"block_id"`
		BlockOrder int      `db:"block_order"`
		Hidden     bool     `db:"hidden"`
		ReadOnly   bool     `db:"read_only"`
		Block      blockRow `db:"block"`
	}

	resourceRow struct {
		ID       int64  `db:"id"`
		UUID     string `db:"uuid"`
		Type     string `db:"type"`
		FileName string `db:"file_name"`
		Path     string `db:"path"`
	}

	// linkedResourceRow is a resource along with the block or course it is linked to.
	linkedResourceRow struct {
		OwnerID int64 `db:"owner_id"`
		resourceRow
	}
)

func (row courseRow) unboil() course.Course {
	c := course.Course{
		ID:                  row.ID,
		Slug:                row.Slug,
		Run:                 row.Run,
		DisplayName:         row.DisplayName,
		ShortName:           row.ShortName,
		StartDate:           row.StartDate.Ptr(),
		EndDate:             row.EndDate.Ptr(),
		EnrollmentStartDate: row.EnrollmentStartDate.Ptr(),
		EnrollmentEndDate:   row.EnrollmentEndDate.Ptr(),
		SelfPaced:           row.SelfPaced,
		DaysEarlyForBeta:    row.DaysEarlyForBeta,
		AdminOnlyEnrollment: row.AdminOnlyEnrollment,
		EnableCertificates:  row.EnableCertificates,
		EnableForum:         row.EnableForum,
		EnableSurveys:       row.EnableSurveys,
		ContentLicense:      row.ContentLicense,
		ContentLicenseURL:   row.ContentLicenseURL,
		RootNodeID:          row.RootNodeID.Ptr(),
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
	if cat := row.Catalog; cat.ID.Valid {
		c.Catalog = &course.CatalogDescription{
			ID:             cat.ID.Int64,
			CourseID:       row.ID,
			Title:          cat.Title.String,
			Blurb:          cat.Blurb.String,
			Overview:       cat.Overview.String,
			AboutContent:   cat.AboutContent.String,
			SidebarContent: cat.SidebarContent.String,
			Duration:       cat.Duration.String,
			Effort:         cat.Effort.String,
			Audience:       cat.Audience.String,
			ThumbnailPath:  cat.ThumbnailPath.String,
			SyllabusPath:   cat.SyllabusPath.String,
			Visible:        cat.Visible.Bool,
		}
	}
	return c
}

func (row nodeRow) unboil() course.Node {
	n := course.Node{
		ID:              row.ID,
		CourseID:        row.CourseID,
		ParentID:        row.ParentID.Ptr(),
		Type:            course.NodeType(row.Type),
		Purpose:         course.NodePurpose(row.Purpose),
		DisplayName:     row.DisplayName,
		Slug:            row.Slug,
		ReleaseDatetime: row.ReleaseDatetime.Ptr(),
		ContentIndex:    row.ContentIndex.Ptr(),
		DisplaySequence: row.DisplaySequence,
		UnitID:          row.UnitID.Ptr(),
	}
	if u := row.Unit; u.ID.Valid {
		n.Unit = &course.Unit{
			ID:               u.ID.Int64,
			CourseID:         row.CourseID,
			UUID:             u.UUID.String,
			Slug:             u.Slug.String,
			DisplayName:      u.DisplayName.String,
			Type:             course.UnitType(u.Type.String),
			ShortDescription: u.ShortDescription.String,
			HTMLContent:      u.HTMLContent.String,
			JSONContent:      unnullJSON(u.JSONContent),
		}
	}
	return n
}

func (row unitRow) unboil() course.Unit {
	return course.Unit{
		ID:               row.ID,
		CourseID:         row.CourseID,
		UUID:             row.UUID,
		Slug:             row.Slug,
		DisplayName:      row.DisplayName,
		Type:             course.UnitType(row.Type),
		ShortDescription: row.ShortDescription,
		HTMLContent:      row.HTMLContent,
		JSONContent:      unnullJSON(row.JSONContent),
	}
}

func (row blockRow) unboil() course.Block {
	return course.Block{
		ID:          row.ID,
		UUID:        row.UUID,
		Type:        course.BlockType(row.Type),
		Slug:        row.Slug,
		DisplayName: row.DisplayName,
		HTMLContent: row.HTMLContent,
		JSONContent: unnullJSON(row.JSONContent),
		Graded:      row.Graded,
		MaxScore:    row.MaxScore,
		Solution:    row.Solution,
	}
}

func (row resourceRow) unboil() course.Resource {
	return course.Resource{
		ID:       row.ID,
		UUID:     row.UUID,
		Type:     course.ResourceType(row.Type),
		FileName: row.FileName,
		Path:     row.Path,
	}
}

const (
	courseColumns = `c.id, c.slug, c.run, c.display_name, c.short_name, c.start_date, c.end_date,
		c.enrollment_start_date, c.enrollment_end_date, c.self_paced, c.days_early_for_beta,
		c.admin_only_enrollment, c.enable_certificates, c.enable_forum, c.enable_surveys,
		c.content_license, c.content_license_url, c.root_node_id, c.created_at, c.updated_at,
		cd.id AS "catalog.id", cd.title AS "catalog.title", cd.blurb AS "catalog.blurb",
		cd.overview AS "catalog.overview", cd.about_content AS "catalog.about_content",
		cd.sidebar_content AS "catalog.sidebar_content", cd.duration AS "catalog.duration",
		cd.effort AS "catalog.effort", cd.audience AS "catalog.audience",
		cd.thumbnail_path AS "catalog.thumbnail_path", cd.syllabus_path AS "catalog.syllabus_path",
		cd.visible AS "catalog.visible"`
	courseFrom = ` FROM course c LEFT JOIN course_catalog_description cd ON cd.course_id = c.id`

	nodeColumns   = `n.id, n.course_id, n.parent_id, n.type, n.purpose, n.display_name, n.slug, n.release_datetime, n.content_index, n.display_sequence, n.unit_id`
	unitColumns   = `id, course_id, uuid, slug, display_name, type, short_description, html_content, json_content`
	blockColumns  = `b.id, b.uuid, b.type, b.slug, b.display_name, b.html_content, b.json_content, b.graded, b.max_score, b.solution`
	resourceCols  = `r.id, r.uuid, r.type, r.file_name, r.path`
	unitBlockCols = `ub.id, ub.unit_id, ub.block_id, ub.block_order, ub.hidden, ub.read_only,
		b.id AS "block.id", b.uuid AS "block.uuid", b.type AS "block.type", b.slug AS "block.slug",
		b.display_name AS "block.display_name", b.html_content AS "block.html_content",
		b.json_content AS "block.json_content", b.graded AS "block.graded",
		b.max_score AS "block.max_score", b.solution AS "block.solution"`
)

type courseRepository struct {
	repository
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db core.DB) course.Repository {
	return &courseRepository{repository{db: db}}
}

func (repo courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	exe := repo.getExec(exec)
	err := exe.QueryRowxContext(ctx, `
		INSERT INTO course (slug, run, display_name, short_name, start_date, end_date, enrollment_start_date,
			enrollment_end_date, self_paced, days_early_for_beta, admin_only_enrollment, enable_certificates,
			enable_forum, enable_surveys, content_license, content_license_url, root_node_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`,
		c.Slug, c.Run, c.DisplayName, c.ShortName, null.TimeFromPtr(c.StartDate), null.TimeFromPtr(c.EndDate),
		null.TimeFromPtr(c.EnrollmentStartDate), null.TimeFromPtr(c.EnrollmentEndDate), c.SelfPaced,
		c.DaysEarlyForBeta, c.AdminOnlyEnrollment, c.EnableCertificates, c.EnableForum, c.EnableSurveys,
		c.ContentLicense, c.ContentLicenseURL, null.Int64FromPtr(c.RootNodeID),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return course.Course{}, course.ErrCourseExists
		}
		return course.Course{}, errors.Wrap(err, "inserting course")
	}

	if c.Catalog != nil {
		cat, err := repo.saveCatalog(ctx, exe, c.ID, *c.Catalog)
		if err != nil {
			return course.Course{}, err
		}
		c.Catalog = &cat
	}
	return c, nil
}

// saveCatalog inserts or updates the catalog description of the course.
func (repo courseRepository) saveCatalog(ctx context.Context, exe core.DBExecutor, courseID int64, cat course.CatalogDescription) (course.CatalogDescription, error) {
	cat.CourseID = courseID
	err := exe.QueryRowxContext(ctx, `
		INSERT INTO course_catalog_description (course_id, title, blurb, overview, about_content, sidebar_content,
			duration, effort, audience, thumbnail_path, syllabus_path, visible)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (course_id) DO UPDATE SET title = EXCLUDED.title, blurb = EXCLUDED.blurb,
			overview = EXCLUDED.overview, about_content = EXCLUDED.about_content,
			sidebar_content = EXCLUDED.sidebar_content, duration = EXCLUDED.duration, effort = EXCLUDED.effort,
			audience = EXCLUDED.audience, thumbnail_path = EXCLUDED.thumbnail_path,
			syllabus_path = EXCLUDED.syllabus_path, visible = EXCLUDED.visible
		RETURNING id`,
		courseID, cat.Title, cat.Blurb, cat.Overview, cat.AboutContent, cat.SidebarContent, cat.Duration,
		cat.Effort, cat.Audience, cat.ThumbnailPath, cat.SyllabusPath, cat.Visible,
	).Scan(&cat.ID)
	if err != nil {
		return course.CatalogDescription{}, errors.Wrap(err, "saving catalog description")
	}
	return cat, nil
}

func (repo courseRepository) UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	exe := repo.getExec(exec)
	err := exe.QueryRowxContext(ctx, `
		UPDATE course SET slug = $2, run = $3, display_name = $4, short_name = $5, start_date = $6, end_date = $7,
			enrollment_start_date = $8, enrollment_end_date = $9, self_paced = $10, days_early_for_beta = $11,
			admin_only_enrollment = $12, enable_certificates = $13, enable_forum = $14, enable_surveys = $15,
			content_license = $16, content_license_url = $17, root_node_id = $18, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Slug, c.Run, c.DisplayName, c.ShortName, null.TimeFromPtr(c.StartDate), null.TimeFromPtr(c.EndDate),
		null.TimeFromPtr(c.EnrollmentStartDate), null.TimeFromPtr(c.EnrollmentEndDate), c.SelfPaced,
		c.DaysEarlyForBeta, c.AdminOnlyEnrollment, c.EnableCertificates, c.EnableForum, c.EnableSurveys,
		c.ContentLicense, c.ContentLicenseURL, null.Int64FromPtr(c.RootNodeID),
	).Scan(&c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return course.Course{}, course.ErrCourseExists
		}
		return course.Course{}, trapNoRowsErr(err, course.ErrNotFound, "updating course")
	}

	if c.Catalog != nil {
		cat, err := repo.saveCatalog(ctx, exe, c.ID, *c.Catalog)
		if err != nil {
			return course.Course{}, err
		}
		c.Catalog = &cat
	}
	return c, nil
}

func (repo courseRepository) GetCourse(ctx context.Context, filter course.GetFilter, exec ...core.DBExecutor) (course.Course, error) {
	var row courseRow
	var err error
	exe := repo.getExec(exec)

	if filter.ID != 0 {
		err = exe.GetContext(ctx, &row, "SELECT "+courseColumns+courseFrom+" WHERE c.id = $1", filter.ID)
	} else {
		err = exe.GetContext(ctx, &row, "SELECT "+courseColumns+courseFrom+" WHERE c.slug = $1 AND c.run = $2", filter.Slug, filter.Run)
	}
	if err != nil {
		return course.Course{}, trapNoRowsErr(err, course.ErrNotFound, "finding course")
	}
	return row.unboil(), nil
}

func (repo courseRepository) QueryCourses(ctx context.Context, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]course.Course, error) {
	var rows []courseRow
	q := "SELECT " + courseColumns + courseFrom + orderBy("c.", ordering, "c.id")
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}

	courses := make([]course.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, row.unboil())
	}
	return courses, nil
}

func (repo courseRepository) CreateNode(ctx context.Context, n course.Node, exec ...core.DBExecutor) (course.Node, error) {
	err := repo.getExec(exec).QueryRowxContext(ctx, `
		INSERT INTO course_node (course_id, parent_id, type, purpose, display_name, slug, release_datetime,
			content_index, display_sequence, unit_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		n.CourseID, null.Int64FromPtr(n.ParentID), n.Type, n.Purpose, n.DisplayName, n.Slug,
		null.TimeFromPtr(n.ReleaseDatetime), null.IntFromPtr(n.ContentIndex), n.DisplaySequence, null.Int64FromPtr(n.UnitID),
	).Scan(&n.ID)
	if err != nil {
		return course.Node{}, errors.Wrap(err, "inserting course node")
	}
	n.Children = nil
	n.Unit = nil
	return n, nil
}

func (repo courseRepository) UpdateNode(ctx context.Context, n course.Node, exec ...core.DBExecutor) (course.Node, error) {
	res, err := repo.getExec(exec).ExecContext(ctx, `
		UPDATE course_node SET parent_id = $2, type = $3, purpose = $4, display_name = $5, slug = $6,
			release_datetime = $7, content_index = $8, display_sequence = $9, unit_id = $10
		WHERE id = $1`,
		n.ID, null.Int64FromPtr(n.ParentID), n.Type, n.Purpose, n.DisplayName, n.Slug,
		null.TimeFromPtr(n.ReleaseDatetime), null.IntFromPtr(n.ContentIndex), n.DisplaySequence, null.Int64FromPtr(n.UnitID),
	)
	if err != nil {
		return course.Node{}, errors.Wrap(err, "updating course node")
	}
	if cnt, _ := res.RowsAffected(); cnt == 0 {
		return course.Node{}, course.ErrNodeNotFound
	}
	n.Children = nil
	n.Unit = nil
	return n, nil
}

// DeleteNode deletes the node, its descendants go along with it (ON DELETE CASCADE).
func (repo courseRepository) DeleteNode(ctx context.Context, id int64, exec ...core.DBExecutor) error {
	res, err := repo.getExec(exec).ExecContext(ctx, "DELETE FROM course_node WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting course node")
	}
	if cnt, _ := res.RowsAffected(); cnt == 0 {
		return course.ErrNodeNotFound
	}
	return nil
}

func (repo courseRepository) GetNode(ctx context.Context, id int64, exec ...core.DBExecutor) (course.Node, error) {
	var row nodeRow
	if err := repo.getExec(exec).GetContext(ctx, &row, "SELECT "+nodeColumns+" FROM course_node n WHERE n.id = $1", id); err != nil {
		return course.Node{}, trapNoRowsErr(err, course.ErrNodeNotFound, "finding course node")
	}
	return row.unboil(), nil
}

func (repo courseRepository) QueryNodes(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]course.Node, error) {
	var rows []nodeRow
	q := `SELECT ` + nodeColumns + `,
			u.id AS "unit.id", u.uuid AS "unit.uuid", u.slug AS "unit.slug", u.display_name AS "unit.display_name",
			u.type AS "unit.type", u.short_description AS "unit.short_description",
			u.html_content AS "unit.html_content", u.json_content AS "unit.json_content"
		FROM course_node n LEFT JOIN course_unit u ON u.id = n.unit_id
		WHERE n.course_id = $1
		ORDER BY n.id`
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, courseID); err != nil {
		return nil, errors.Wrap(err, "querying course nodes")
	}

	nodes := make([]course.Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, row.unboil())
	}
	return nodes, nil
}

func (repo courseRepository) CreateUnit(ctx context.Context, u course.Unit, exec ...core.DBExecutor) (course.Unit, error) {
	err := repo.getExec(exec).QueryRowxContext(ctx, `
		INSERT INTO course_unit (course_id, uuid, slug, display_name, type, short_description, html_content, json_content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		u.CourseID, u.UUID, u.Slug, u.DisplayName, u.Type, u.ShortDescription, u.HTMLContent, nullJSON(u.JSONContent),
	).Scan(&u.ID)
	if err != nil {
		return course.Unit{}, errors.Wrap(err, "inserting course unit")
	}
	u.UnitBlocks = nil
	return u, nil
}

func (repo courseRepository) UpdateUnit(ctx context.Context, u course.Unit, exec ...core.DBExecutor) (course.Unit, error) {
	exe := repo.getExec(exec)
	res, err := exe.ExecContext(ctx, `
		UPDATE course_unit SET slug = $2, display_name = $3, type = $4, short_description = $5,
			html_content = $6, json_content = $7
		WHERE id = $1`,
		u.ID, u.Slug, u.DisplayName, u.Type, u.ShortDescription, u.HTMLContent, nullJSON(u.JSONContent),
	)
	if err != nil {
		return course.Unit{}, errors.Wrap(err, "updating course unit")
	}
	if cnt, _ := res.RowsAffected(); cnt == 0 {
		return course.Unit{}, course.ErrUnitNotFound
	}
	return repo.GetUnit(ctx, u.ID, exe)
}

func (repo courseRepository) GetUnit(ctx context.Context, id int64, exec ...core.DBExecutor) (course.Unit, error) {
	exe := repo.getExec(exec)
	var row unitRow
	if err := exe.GetContext(ctx, &row, "SELECT "+unitColumns+" FROM course_unit WHERE id = $1", id); err != nil {
		return course.Unit{}, trapNoRowsErr(err, course.ErrUnitNotFound, "finding course unit")
	}

	units, err := repo.withUnitBlocks(ctx, exe, []unitRow{row})
	if err != nil {
		return course.Unit{}, err
	}
	return units[0], nil
}

func (repo courseRepository) QueryUnits(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]course.Unit, error) {
	exe := repo.getExec(exec)
	var rows []unitRow
	if err := exe.SelectContext(ctx, &rows, "SELECT "+unitColumns+" FROM course_unit WHERE course_id = $1 ORDER BY id", courseID); err != nil {
		return nil, errors.Wrap(err, "querying course units")
	}
	return repo.withUnitBlocks(ctx, exe, rows)
}

// withUnitBlocks loads the ordered unit blocks of the units, with their blocks and block resources.
func (repo courseRepository) withUnitBlocks(ctx context.Context, exe core.DBExecutor, rows []unitRow) ([]course.Unit, error) {
	unitIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		unitIDs = append(unitIDs, row.ID)
	}

	var ubRows []unitBlockRow
	q := "SELECT " + unitBlockCols + ` FROM unit_block ub JOIN block b ON b.id = ub.block_id
		WHERE ub.unit_id IN (?) ORDER BY ub.block_order, ub.id`
	if err := selectIn(ctx, exe, &ubRows, q, unitIDs); err != nil {
		return nil, errors.Wrap(err, "querying unit blocks")
	}

	blockIDs := make([]int64, 0, len(ubRows))
	for _, ub := range ubRows {
		blockIDs = append(blockIDs, ub.BlockID)
	}
	resources, err := repo.blockResources(ctx, exe, blockIDs)
	if err != nil {
		return nil, err
	}

	unitBlocks := make(map[int64][]course.UnitBlock, len(rows))
	for _, ub := range ubRows {
		block := ub.Block.unboil()
		block.Resources = resources[block.ID]
		unitBlocks[ub.UnitID] = append(unitBlocks[ub.UnitID], course.UnitBlock{
			ID:         ub.ID,
			UnitID:     ub.UnitID,
			BlockID:    ub.BlockID,
			BlockOrder: ub.BlockOrder,
			Hidden:     ub.Hidden,
			ReadOnly:   ub.ReadOnly,
			Block:      block,
		})
	}

	units := make([]course.Unit, 0, len(rows))
	for _, row := range rows {
		u := row.unboil()
		u.UnitBlocks = unitBlocks[u.ID]
		units = append(units, u)
	}
	return units, nil
}

func (repo courseRepository) blockResources(ctx context.Context, exe core.DBExecutor, blockIDs []int64) (map[int64][]course.Resource, error) {
	var rows []linkedResourceRow
	q := "SELECT br.block_id AS owner_id, " + resourceCols + ` FROM block_resource br
		JOIN resource r ON r.id = br.resource_id
		WHERE br.block_id IN (?) ORDER BY r.id`
	if err := selectIn(ctx, exe, &rows, q, blockIDs); err != nil {
		return nil, errors.Wrap(err, "querying block resources")
	}

	resources := make(map[int64][]course.Resource)
	for _, row := range rows {
		resources[row.OwnerID] = append(resources[row.OwnerID], row.unboil())
	}
	return resources, nil
}

func (repo courseRepository) CreateBlock(ctx context.Context, b course.Block, exec ...core.DBExecutor) (course.Block, error) {
	err := repo.getExec(exec).QueryRowxContext(ctx, `
		INSERT INTO block (uuid, type, slug, display_name, html_content, json_content, graded, max_score, solution)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		b.UUID, b.Type, b.Slug, b.DisplayName, b.HTMLContent, nullJSON(b.JSONContent), b.Graded, b.MaxScore, b.Solution,
	).Scan(&b.ID)
	if err != nil {
		return course.Block{}, errors.Wrap(err, "inserting block")
	}
	b.Resources = nil
	return b, nil
}

func (repo courseRepository) getBlock(ctx context.Context, exe core.DBExecutor, where string, arg interface{}) (course.Block, error) {
	var row blockRow
	if err := exe.GetContext(ctx, &row, "SELECT "+blockColumns+" FROM block b WHERE "+where, arg); err != nil {
		return course.Block{}, trapNoRowsErr(err, course.ErrBlockNotFound, "finding block")
	}

	b := row.unboil()
	resources, err := repo.blockResources(ctx, exe, []int64{b.ID})
	if err != nil {
		return course.Block{}, err
	}
	b.Resources = resources[b.ID]
	return b, nil
}

func (repo courseRepository) GetBlock(ctx context.Context, id int64, exec ...core.DBExecutor) (course.Block, error) {
	return repo.getBlock(ctx, repo.getExec(exec), "b.id = $1", id)
}

func (repo courseRepository) GetBlockByUUID(ctx context.Context, id string, exec ...core.DBExecutor) (course.Block, error) {
	if _, err := uuid.Parse(id); err != nil {
		return course.Block{}, course.ErrBlockNotFound
	}
	return repo.getBlock(ctx, repo.getExec(exec), "b.uuid = $1", id)
}

// QueryBlocks returns the blocks of blockType used by the units of the course, every type when blockType is empty.
func (repo courseRepository) QueryBlocks(ctx context.Context, courseID int64, blockType course.BlockType, exec ...core.DBExecutor) ([]course.Block, error) {
	exe := repo.getExec(exec)
	var rows []blockRow
	q := "SELECT DISTINCT " + blockColumns + ` FROM block b
		JOIN unit_block ub ON ub.block_id = b.id
		JOIN course_unit u ON u.id = ub.unit_id
		WHERE u.course_id = $1 AND ($2::text = '' OR b.type = $2)
		ORDER BY b.id`
	if err := exe.SelectContext(ctx, &rows, q, courseID, string(blockType)); err != nil {
		return nil, errors.Wrap(err, "querying blocks")
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	resources, err := repo.blockResources(ctx, exe, ids)
	if err != nil {
		return nil, err
	}

	blocks := make([]course.Block, 0, len(rows))
	for _, row := range rows {
		b := row.unboil()
		b.Resources = resources[b.ID]
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (repo courseRepository) CreateUnitBlock(ctx context.Context, ub course.UnitBlock, exec ...core.DBExecutor) (course.UnitBlock, error) {
	exe := repo.getExec(exec)
	err := exe.QueryRowxContext(ctx, `
		INSERT INTO unit_block (unit_id, block_id, block_order, hidden, read_only)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		ub.UnitID, ub.BlockID, ub.BlockOrder, ub.Hidden, ub.ReadOnly,
	).Scan(&ub.ID)
	if err != nil {
		switch {
		case isForeignKeyViolation(err, "unit_id"):
			return course.UnitBlock{}, course.ErrUnitNotFound
		case isForeignKeyViolation(err, "block_id"):
			return course.UnitBlock{}, course.ErrBlockNotFound
		}
		return course.UnitBlock{}, errors.Wrap(err, "inserting unit block")
	}

	if ub.Block, err = repo.GetBlock(ctx, ub.BlockID, exe); err != nil {
		return course.UnitBlock{}, err
	}
	return ub, nil
}

func (repo courseRepository) DeleteUnitBlock(ctx context.Context, unitID, blockID int64, exec ...core.DBExecutor) error {
	res, err := repo.getExec(exec).ExecContext(ctx, "DELETE FROM unit_block WHERE unit_id = $1 AND block_id = $2", unitID, blockID)
	if err != nil {
		return errors.Wrap(err, "deleting unit block")
	}
	if cnt, _ := res.RowsAffected(); cnt == 0 {
		return course.ErrBlockNotFound
	}
	return nil
}

func (repo courseRepository) CreateResource(ctx context.Context, r course.Resource, exec ...core.DBExecutor) (course.Resource, error) {
	err := repo.getExec(exec).QueryRowxContext(ctx,
		"INSERT INTO resource (uuid, type, file_name, path) VALUES ($1, $2, $3, $4) RETURNING id",
		r.UUID, r.Type, r.FileName, r.Path,
	).Scan(&r.ID)
	if err != nil {
		return course.Resource{}, errors.Wrap(err, "inserting resource")
	}
	return r, nil
}

func (repo courseRepository) GetResourceByUUID(ctx context.Context, id string, exec ...core.DBExecutor) (course.Resource, error) {
	if _, err := uuid.Parse(id); err != nil {
		return course.Resource{}, course.ErrResourceNotFound
	}
	var row resourceRow
	if err := repo.getExec(exec).GetContext(ctx, &row, "SELECT "+resourceCols+" FROM resource r WHERE r.uuid = $1", id); err != nil {
		return course.Resource{}, trapNoRowsErr(err, course.ErrResourceNotFound, "finding resource")
	}
	return row.unboil(), nil
}

func (repo courseRepository) LinkBlockResource(ctx context.Context, blockID, resourceID int64, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx,
		"INSERT INTO block_resource (block_id, resource_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", blockID, resourceID)
	return errors.Wrap(err, "linking block resource")
}

func (repo courseRepository) LinkCourseResource(ctx context.Context, courseID, resourceID int64, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(ctx,
		"INSERT INTO course_resource (course_id, resource_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", courseID, resourceID)
	return errors.Wrap(err, "linking course resource")
}

func (repo courseRepository) QueryCourseResources(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]course.Resource, error) {
	var rows []resourceRow
	q := "SELECT " + resourceCols + ` FROM course_resource cr
		JOIN resource r ON r.id = cr.resource_id
		WHERE cr.course_id = $1 ORDER BY r.id`
	if err := repo.getExec(exec).SelectContext(ctx, &rows, q, courseID); err != nil {
		return nil, errors.Wrap(err, "querying course resources")
	}

	resources := make([]course.Resource, 0, len(rows))
	for _, row := range rows {
		resources = append(resources, row.unboil())
	}
	return resources, nil
}
