package functions

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/samuelchassot/serverless-benchmarks/harness"
)

// CompressionBenchmark is the name of the directory compression benchmark.
const CompressionBenchmark = "compression"

// Compression zips a downloaded directory tree.
type Compression struct{}

func (Compression) Name() string { return "compress" }

func (Compression) Run(ctx context.Context, in *harness.Input) (*harness.Output, error) {
	key, err := in.Event.String("object.key")
	if err != nil {
		return nil, err
	}

	archive := filepath.Join(in.ScratchDir, path.Base(key)+".zip")
	if err := zipDir(in.Path, archive); err != nil {
		return nil, fmt.Errorf("compress %s: %w", key, err)
	}

	return &harness.Output{Path: archive}, nil
}

// zipDir writes every file and directory below root into a deflated
// archive at dest, named relative to root.
func zipDir(root, dest string) (err error) {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	zw := zip.NewWriter(f)

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}

		header.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			header.Name += "/"
			_, err := zw.CreateHeader(header)
			return err
		}

		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(w, src)

		return err
	})
	if walkErr != nil {
		zw.Close()
		return fmt.Errorf("write archive: %w", walkErr)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}

	return nil
}

// Benchmark describes the compression benchmark for the harness.
func (c Compression) Benchmark() (harness.Benchmark, error) {
	reg, err := harness.NewRegistry(c)
	if err != nil {
		return harness.Benchmark{}, fmt.Errorf("%s: %w", CompressionBenchmark, err)
	}

	return harness.Benchmark{
		Name:             CompressionBenchmark,
		Input:            harness.InputDirectory,
		Upload:           true,
		Operations:       reg,
		DefaultOperation: c.Name(),
	}, nil
}
