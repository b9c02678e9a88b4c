package export

import (
	"fmt"
	"math"
	"strings"
)

// GenerateEDL renders a CMX3600-style EDL. Record times are laid end to end
// in clip order.
func GenerateEDL(clips []Clip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 25
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	record := 0.0
	for i, clip := range clips {
		length := clip.End - clip.Start
		if length < 0 {
			length = 0
		}
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				secondsToTimecode(clip.Start, fps), secondsToTimecode(clip.End, fps),
				secondsToTimecode(record, fps), secondsToTimecode(record+length, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.Name),
			fmt.Sprintf("* MEDIA PATH:  %s", clip.MediaPath),
		)
		record += length
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func secondsToTimecode(sec float64, fps int) string {
	totalFrames := int(math.Round(sec * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
