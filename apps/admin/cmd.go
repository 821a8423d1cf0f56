package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/spf13/afero"
	"golang.org/x/term"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/interchange"
	"github.com/trezcool/elimu/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type (
	courseImporter interface {
		ImportCourseFromArchive(
			ctx context.Context, r io.ReaderAt, size int64, slug, run, displayName string, opts interchange.ImportOptions,
		) (course.Course, error)
	}

	courseExporter interface {
		Export(ctx context.Context, c course.Course, format interchange.Format, w io.Writer) error
	}

	commandLine struct {
		db       *sql.DB
		fs       afero.Fs // archives and import configs are read from / written to fs
		out      io.Writer
		logger   core.Logger
		usrRepo  user.Repository
		courses  course.Service
		importer courseImporter
		exporter courseExporter
	}
)

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix)")
	fmt.Fprintln(cli.out, "  adduser -username USERNAME -email EMAIL [-admin] - create or update an active user")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Fprintln(cli.out, "  importcourse -file ARCHIVE [-slug SLUG -run RUN -name NAME -config YAML] - import a course archive")
	fmt.Fprintln(cli.out, "  exportcourse -slug SLUG -run RUN [-format kinesinlms|cc|legacy -out PATH] - export a course")
	fmt.Fprintln(cli.out, "  bustnav -slug SLUG -run RUN - clear the cached navigation of a course")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	fset.SetOutput(cli.out)
	return fset
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		cmd := cli.newFlagSet("adduser")
		uname := cmd.String("username", "", "The user's username.")
		email := cmd.String("email", "", "The user's email.")
		isAdmin := cmd.Bool("admin", false, "Grant every role to the user.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *uname == "" || *email == "" {
			cmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.addUser(*uname, *email, pwd, *isAdmin)

	case "resetpassword":
		cmd := cli.newFlagSet("resetpassword")
		uname := cmd.String("username", "", "The user's username or email. The password will be prompted next.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *uname == "" {
			cmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*uname, pwd)

	case "importcourse":
		cmd := cli.newFlagSet("importcourse")
		file := cmd.String("file", "", "The course archive to import.")
		slug := cmd.String("slug", "", "Overrides the course slug of the archive.")
		run := cmd.String("run", "", "Overrides the course run of the archive.")
		name := cmd.String("name", "", "Overrides the course display name of the archive.")
		config := cmd.String("config", "", "A YAML import configuration.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *file == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.importCourse(*file, *slug, *run, *name, *config)

	case "exportcourse":
		cmd := cli.newFlagSet("exportcourse")
		slug := cmd.String("slug", "", "The course slug.")
		run := cmd.String("run", "", "The course run.")
		format := cmd.String("format", string(interchange.FormatInternal), "The archive format.")
		out := cmd.String("out", "", "Where to write the archive (defaults to the export file name).")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *slug == "" || *run == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.exportCourse(*slug, *run, interchange.Format(*format), *out)

	case "bustnav":
		cmd := cli.newFlagSet("bustnav")
		slug := cmd.String("slug", "", "The course slug.")
		run := cmd.String("run", "", "The course run.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *slug == "" || *run == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.bustNav(*slug, *run)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) readPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
