package loadsim

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/big"

	"github.com/google/uuid"
)

// Frame geometry and variety.
const (
	frameWidth   = 160
	frameHeight  = 120
	framePalette = 8
	jpegQuality  = 70
)

var eventTypes = []string{"tab_switch", "window_blur", "copy", "paste", "devtools"}

// randomInt returns a uniform int in [0, n) using crypto/rand.
func randomInt(n int) int {
	v, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(v.Int64())
}

// framePool holds a handful of pre-encoded frames so the run measures the
// service, not JPEG encoding.
type framePool struct {
	frames []string
}

func newFramePool() (*framePool, error) {
	p := &framePool{frames: make([]string, framePalette)}
	for i := range p.frames {
		data, err := encodeFrame(uint8(40 + i*24))
		if err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", i, err)
		}
		p.frames[i] = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
	}
	return p, nil
}

// next returns a frame body for the given frame index.
func (p *framePool) next(i int) string {
	return p.frames[i%len(p.frames)]
}

// encodeFrame draws a gray field with a lighter oval roughly where a face sits.
func encodeFrame(shade uint8) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, frameWidth, frameHeight))
	cx, cy := frameWidth/2, frameHeight/2
	for y := 0; y < frameHeight; y++ {
		for x := 0; x < frameWidth; x++ {
			dx, dy := x-cx, (y-cy)*4/3
			v := shade
			if dx*dx+dy*dy < 30*30 {
				v = shade/2 + 100
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// plan is the script one session follows.
type plan struct {
	frameIDs []string
	events   []eventRequest
}

// newPlan lays out frame ids, with every DuplicateEvery-th frame reusing
// its predecessor's id, and a random mix of client events.
func newPlan(cfg *Config) plan {
	p := plan{frameIDs: make([]string, cfg.FramesPerSession)}
	for i := range p.frameIDs {
		if cfg.DuplicateEvery > 0 && i > 0 && i%cfg.DuplicateEvery == 0 {
			p.frameIDs[i] = p.frameIDs[i-1]
			continue
		}
		p.frameIDs[i] = uuid.NewString()
	}
	for i := 0; i < cfg.EventsPerSession; i++ {
		p.events = append(p.events, eventRequest{
			EventType: eventTypes[randomInt(len(eventTypes))],
			Detail:    "loadsim",
			EventID:   uuid.NewString(),
		})
	}
	return p
}
