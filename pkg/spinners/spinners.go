package spinners

import (
	"fmt"
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

const barWidth = 64

// Container builds the progress container used for interactive uploads.
// A nil writer renders to stderr.
func Container(w io.Writer) *mpb.Progress {
	opts := []mpb.ContainerOption{mpb.WithWidth(barWidth)}
	if w != nil {
		opts = append(opts, mpb.WithOutput(w))
	}
	return mpb.New(opts...)
}

// UploadBar adds a byte counted bar for one instance upload. The caller
// drives it with SetCurrent from the transfer progress callback.
func UploadBar(p *mpb.Progress, name string, total int64) *mpb.Bar {
	return p.New(total,
		mpb.BarStyle(),
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f"),
			decor.Name(" "),
			decor.Percentage(),
		),
		BarFillerClearOnAbort(),
	)
}

func BarFillerClearOnAbort() mpb.BarOption {
	return mpb.BarFillerMiddleware(func(base mpb.BarFiller) mpb.BarFiller {
		return mpb.BarFillerFunc(func(w io.Writer, st decor.Statistics) error {
			if st.Aborted {
				_, err := io.WriteString(w, "")
				return fmt.Errorf("%w", err)
			}
			return base.Fill(w, st)
		})
	})
}
