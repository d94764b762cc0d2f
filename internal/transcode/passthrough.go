package transcode

import (
	"context"
	"errors"
	"io"
	"os"
)

// Passthrough copies bytes instead of encoding. It is used when no encoder is
// installed; the combined output is the inputs appended in order.
type Passthrough struct{}

func (Passthrough) Normalize(ctx context.Context, input, output string) error {
	return appendFiles(ctx, []string{input}, output)
}

func (Passthrough) StackAndMix(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("no inputs to combine")
	}
	return appendFiles(ctx, inputs, output)
}

func appendFiles(ctx context.Context, inputs []string, output string) error {
	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(in)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return out.Sync()
}
