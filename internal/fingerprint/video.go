package fingerprint

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/franz/media-organizer/internal/util"
)

// Video fingerprint parameters (dhash-video, version 1).
const (
	VideoAlgorithm = "dhash-video"
	VideoVersion   = 1

	dhashWidth  = 9
	dhashHeight = 8

	// sceneChangeDistance is the frame-to-frame Hamming distance counted
	// as a cut.
	sceneChangeDistance = 20
)

// VideoFeatures are low-level descriptors computed alongside the video
// fingerprint.
type VideoFeatures struct {
	LumaMean        float64
	LumaStd         float64
	SceneChangeRate float64
}

// DHash computes the 64-bit difference hash of one greyscale frame. Frames
// larger than 9x8 are box-filtered down first.
func DHash(frame []byte, width, height int) uint64 {
	px := frame
	if width != dhashWidth || height != dhashHeight {
		px = shrink(frame, width, height)
	}
	var h uint64
	for y := 0; y < dhashHeight; y++ {
		for x := 0; x < dhashWidth-1; x++ {
			if px[y*dhashWidth+x] > px[y*dhashWidth+x+1] {
				h |= 1 << uint(y*(dhashWidth-1)+x)
			}
		}
	}
	return h
}

func shrink(frame []byte, width, height int) []byte {
	out := make([]byte, dhashWidth*dhashHeight)
	for y := 0; y < dhashHeight; y++ {
		y0, y1 := y*height/dhashHeight, (y+1)*height/dhashHeight
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for x := 0; x < dhashWidth; x++ {
			x0, x1 := x*width/dhashWidth, (x+1)*width/dhashWidth
			if x1 <= x0 {
				x1 = x0 + 1
			}
			var sum, n int
			for yy := y0; yy < y1 && yy < height; yy++ {
				for xx := x0; xx < x1 && xx < width; xx++ {
					sum += int(frame[yy*width+xx])
					n++
				}
			}
			if n > 0 {
				out[y*dhashWidth+x] = byte(sum / n)
			}
		}
	}
	return out
}

// AnalyzeVideo hashes every frame and computes the descriptive features.
// It stops with the context error once ctx is done.
func AnalyzeVideo(ctx context.Context, seq *FrameSequence) ([]uint64, VideoFeatures, error) {
	hashes := make([]uint64, 0, len(seq.Frames))
	var sum, sumSq float64
	var pixels int
	cuts := 0

	for i, frame := range seq.Frames {
		if i%cancelCheckFrames == 0 {
			if err := ctx.Err(); err != nil {
				return nil, VideoFeatures{}, err
			}
		}
		h := DHash(frame, seq.Width, seq.Height)
		if i > 0 && Hamming(h, hashes[i-1]) > sceneChangeDistance {
			cuts++
		}
		hashes = append(hashes, h)
		for _, p := range frame {
			v := float64(p)
			sum += v
			sumSq += v * v
		}
		pixels += len(frame)
	}

	var feats VideoFeatures
	if pixels > 0 {
		feats.LumaMean = sum / float64(pixels)
		feats.LumaStd = math.Sqrt(math.Max(0, sumSq/float64(pixels)-feats.LumaMean*feats.LumaMean))
	}
	if len(hashes) > 1 {
		feats.SceneChangeRate = float64(cuts) / float64(len(hashes)-1)
	}
	return hashes, feats, nil
}

// Hamming returns the number of differing bits.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// EncodeVideo serializes frame hashes as little-endian uint64 words.
func EncodeVideo(hashes []uint64) []byte {
	out := make([]byte, 8*len(hashes))
	for i, h := range hashes {
		binary.LittleEndian.PutUint64(out[8*i:], h)
	}
	return out
}

// ParseVideo parses a blob produced by EncodeVideo.
func ParseVideo(blob []byte) ([]uint64, error) {
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("video fingerprint blob of %d bytes: %w", len(blob), util.ErrCorruptMedia)
	}
	out := make([]uint64, len(blob)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(blob[8*i:])
	}
	return out, nil
}
