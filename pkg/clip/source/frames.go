// ABOUTME: Synthetic frame painter shared by the demo clip sources
// ABOUTME: Draws a gradient with a sweeping bar so frame changes are visible
package source

import "github.com/Resonate-Protocol/framesync/pkg/clip"

// paintFrame fills an RGBA buffer for frame index of count
func paintFrame(out []byte, width, height, index, count int) bool {
	if width <= 0 || height <= 0 || index < 0 || index >= count {
		return false
	}
	if len(out) < width*height*clip.BytesPerPixel {
		return false
	}

	bar := index * width / count
	shade := byte(index * 255 / max(count-1, 1))

	for y := 0; y < height; y++ {
		row := out[y*width*clip.BytesPerPixel:]
		for x := 0; x < width; x++ {
			p := row[x*clip.BytesPerPixel : (x+1)*clip.BytesPerPixel]
			if x == bar {
				p[0], p[1], p[2] = 255, 255, 255
			} else {
				p[0] = byte(x * 255 / width)
				p[1] = byte(y * 255 / height)
				p[2] = shade
			}
			p[3] = 255
		}
	}
	return true
}

// uniformFrames returns the number of frames spanning durationMicros at fps
func uniformFrames(durationMicros int64, fps float64) int {
	if fps <= 0 || durationMicros <= 0 {
		return 0
	}
	return int(float64(durationMicros) * fps / 1_000_000)
}
