// fleece converts between JSON and the Fleece binary format and inspects
// Fleece data.
//
// Usage:
//
//	fleece encode [-json5] [-o out] [file]   Convert JSON to Fleece
//	fleece decode [-json5] [file]            Convert Fleece to JSON
//	fleece dump [file]                       Annotated listing of Fleece data
//	fleece get <keypath> [file]              Print the value at a key path
//	fleece diff <old.json> <new.json>        Print a JSON Patch from old to new
//	fleece patch <doc.json> <patch.json>     Apply a JSON Patch, print the result
//	fleece validate <file>...                Check Fleece files
//
// If no file is given, reads from stdin. -v enables debug logging.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/fleece"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet("fleece "+cmd, flag.ExitOnError)
	verbose := fs.Bool("v", false, "debug logging")
	json5 := fs.Bool("json5", false, "JSON5 input (encode) or output (decode)")
	outPath := fs.String("o", "", "output file (default stdout)")
	fs.Parse(args)
	args = fs.Args()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var err error
	switch cmd {
	case "encode":
		err = cmdEncode(argOrStdin(args, 0), *outPath, *json5)
	case "decode":
		err = cmdDecode(argOrStdin(args, 0), *json5)
	case "dump":
		err = cmdDump(argOrStdin(args, 0))
	case "get":
		if len(args) < 1 {
			fatal("fleece get: missing key path")
		}
		err = cmdGet(args[0], argOrStdin(args, 1))
	case "diff":
		if len(args) != 2 {
			fatal("fleece diff: need two files")
		}
		err = cmdDiff(args[0], args[1])
	case "patch":
		if len(args) != 2 {
			fatal("fleece patch: need a document and a patch")
		}
		err = cmdPatch(args[0], args[1])
	case "validate":
		if len(args) == 0 {
			fatal("fleece validate: no files")
		}
		err = cmdValidate(context.Background(), logger, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "failed", slog.String("cmd", cmd), slog.String("code", fleece.CodeOf(err).String()))
		fatal("fleece %s: %v", cmd, err)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage:
  fleece encode [-json5] [-o out] [file]   Convert JSON to Fleece
  fleece decode [-json5] [file]            Convert Fleece to JSON
  fleece dump [file]                       Annotated listing of Fleece data
  fleece get <keypath> [file]              Print the value at a key path
  fleece diff <old.json> <new.json>        Print a JSON Patch from old to new
  fleece patch <doc.json> <patch.json>     Apply a JSON Patch, print the result
  fleece validate <file>...                Check Fleece files
`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func argOrStdin(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return "-"
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// openFleece maps a Fleece file, or reads stdin; the doc is validated either way.
func openFleece(path string) (*fleece.Doc, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		return fleece.NewDoc(data, fleece.Untrusted, nil)
	}
	return fleece.OpenFile(path, fleece.FileOptions{Trust: fleece.Untrusted})
}

func readJSONDoc(path string) (*fleece.Doc, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	return fleece.FromJSON(data, nil)
}

func writeOutput(data []byte) error {
	_, err := os.Stdout.Write(data)
	return err
}

func cmdEncode(in, out string, json5 bool) error {
	data, err := readInput(in)
	if err != nil {
		return err
	}
	var doc *fleece.Doc
	if json5 {
		doc, err = fleece.FromJSON5(data, nil)
	} else {
		doc, err = fleece.FromJSON(data, nil)
	}
	if err != nil {
		return err
	}
	slog.Debug("encoded", "in", in, "json_size", len(data), "fleece_size", doc.Data().Len())
	if out == "" {
		return writeOutput(doc.Data())
	}
	return doc.WriteFile(out)
}

func cmdDecode(in string, json5 bool) error {
	doc, err := openFleece(in)
	if err != nil {
		return err
	}
	defer doc.Release()
	s := doc.Root().ToJSON()
	if json5 {
		s = doc.Root().ToJSON5()
	}
	return writeOutput(append([]byte(s), '\n'))
}

func cmdDump(in string) error {
	doc, err := openFleece(in)
	if err != nil {
		return err
	}
	defer doc.Release()
	s, err := fleece.Dump(doc.Data())
	if err != nil {
		return err
	}
	return writeOutput([]byte(s))
}

func cmdGet(keyPath, in string) error {
	kp, err := fleece.NewKeyPath(keyPath)
	if err != nil {
		return err
	}
	doc, err := openFleece(in)
	if err != nil {
		return err
	}
	defer doc.Release()
	v := kp.Eval(doc.Root())
	if !v.Exists() {
		return &fleece.Error{Code: fleece.NotFound, Msg: fmt.Sprintf("nothing at %s", keyPath), Off: -1}
	}
	return writeOutput(append([]byte(v.ToJSON()), '\n'))
}

func cmdDiff(oldPath, newPath string) error {
	a, err := readJSONDoc(oldPath)
	if err != nil {
		return err
	}
	b, err := readJSONDoc(newPath)
	if err != nil {
		return err
	}
	delta := fleece.Diff(a.Root(), b.Root())
	j, err := delta.JSON()
	if err != nil {
		return err
	}
	slog.Debug("diffed", "ops", len(delta))
	return writeOutput(append(j, '\n'))
}

func cmdPatch(docPath, patchPath string) error {
	doc, err := readJSONDoc(docPath)
	if err != nil {
		return err
	}
	patch, err := readInput(patchPath)
	if err != nil {
		return err
	}
	result, err := fleece.ApplyJSON(doc.Root(), patch, nil)
	if err != nil {
		return err
	}
	return writeOutput(append([]byte(result.Root().ToJSON()), '\n'))
}

// cmdValidate checks every file and returns all the failures joined.
func cmdValidate(ctx context.Context, logger *slog.Logger, paths []string) error {
	errs := make([]error, len(paths))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, path := range paths {
		g.Go(func() error {
			doc, err := fleece.OpenFile(path, fleece.FileOptions{Trust: fleece.Untrusted, Logger: logger})
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", path, err)
				return nil
			}
			logger.LogAttrs(ctx, slog.LevelDebug, "valid", slog.String("path", path), slog.Int("size", doc.Data().Len()))
			return doc.Release()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
