package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/seantiz/tagpool/internal/model"
)

// Invoke runs op against b. It is the only place that matches on operation
// kinds; file kinds are read and written here so engines only ever see text.
func Invoke(ctx context.Context, b Backend, op model.Operation) (model.Output, error) {
	switch o := op.(type) {
	case model.TagText:
		lines, err := b.Tag(ctx, o.Text, o.Options)
		if err != nil {
			return model.Output{}, err
		}
		return model.Output{Lines: lines}, nil

	case model.TagFile:
		text, err := readText(o.InPath, o.Encoding)
		if err != nil {
			return model.Output{}, err
		}
		lines, err := b.Tag(ctx, text, o.Options)
		if err != nil {
			return model.Output{}, fmt.Errorf("tag %s: %w", o.InPath, err)
		}
		return model.Output{Lines: lines}, nil

	case model.TagFileTo:
		text, err := readText(o.InPath, o.Encoding)
		if err != nil {
			return model.Output{}, err
		}
		lines, err := b.Tag(ctx, text, o.Options)
		if err != nil {
			return model.Output{}, fmt.Errorf("tag %s: %w", o.InPath, err)
		}
		if err := writeLines(o.OutPath, o.Encoding, lines); err != nil {
			return model.Output{}, err
		}
		return model.Output{OutPath: o.OutPath}, nil

	default:
		return model.Output{}, fmt.Errorf("%w: unsupported operation %T", model.ErrInvalidOperation, op)
	}
}

// lookupEncoding resolves a WHATWG encoding label, defaulting to UTF-8.
func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		name = model.DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

func readText(path, encName string) (string, error) {
	enc, err := lookupEncoding(encName)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(transform.NewReader(f, enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("read %s as %s: %w", path, encName, err)
	}
	return string(data), nil
}

func writeLines(path, encName string, lines []string) error {
	enc, err := lookupEncoding(encName)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	tw := transform.NewWriter(f, enc.NewEncoder())
	bw := bufio.NewWriter(tw)
	for _, line := range lines {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
