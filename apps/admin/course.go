package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/trezcool/elimu/core/interchange"
)

func (cli *commandLine) importCourse(file, slug, run, name, configPath string) error {
	ctx := context.Background()

	data, err := afero.ReadFile(cli.fs, file)
	if err != nil {
		return errors.Wrap(err, "reading course archive")
	}

	var opts interchange.ImportOptions
	if configPath != "" {
		f, err := cli.fs.Open(configPath)
		if err != nil {
			return errors.Wrap(err, "opening import config")
		}
		cfg, err := interchange.LoadImportConfig(f)
		_ = f.Close()
		if err != nil {
			return err
		}
		opts.Config = &cfg
	}
	opts.Progress = func(percent int, message string) {
		fmt.Fprintf(cli.out, "[%3d%%] %s\n", percent, message)
	}

	c, err := cli.importer.ImportCourseFromArchive(ctx, bytes.NewReader(data), int64(len(data)), slug, run, name, opts)
	if err != nil {
		return err
	}
	cli.logger.Info(fmt.Sprintf("imported course %s from %s", c.Token(), file))
	fmt.Fprintf(cli.out, "imported course %s (id %d)\n", c.Token(), c.ID)
	return nil
}

func (cli *commandLine) exportCourse(slug, run string, format interchange.Format, out string) error {
	if !format.IsValid() {
		return interchange.ErrUnsupportedFormat
	}
	ctx := context.Background()

	c, err := cli.courses.GetByToken(ctx, slug, run)
	if err != nil {
		return err
	}
	if out == "" {
		out = interchange.Filename(c, format)
	}

	var buf bytes.Buffer
	if err := cli.exporter.Export(ctx, c, format, &buf); err != nil {
		return err
	}
	if err := afero.WriteFile(cli.fs, out, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "writing course archive")
	}
	fmt.Fprintf(cli.out, "exported course %s to %s\n", c.Token(), out)
	return nil
}

func (cli *commandLine) bustNav(slug, run string) error {
	ctx := context.Background()
	c, err := cli.courses.GetByToken(ctx, slug, run)
	if err != nil {
		return err
	}
	return cli.courses.BustNavCache(ctx, c)
}
