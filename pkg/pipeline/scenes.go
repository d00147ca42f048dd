package pipeline

import (
	"math"
	"strings"

	"github.com/reelpipe/reelpipe/pkg/core"
)

// Scene duration bounds in seconds. Individual scenes are rebalanced to
// fit the window while the total approximates the requested duration.
const (
	minSceneSeconds = 4.0
	maxSceneSeconds = 8.0
	minSceneCount   = 3
	maxSceneCount   = 5
)

// PlanScenes subdivides a script into 3-5 scenes whose durations each fall
// within [4,8] seconds and sum to approximately targetSeconds. This is a
// constrained rebalancing of the requested duration, not free-form
// generation.
func PlanScenes(script string, targetSeconds int) []core.Scene {
	if targetSeconds <= 0 {
		targetSeconds = 30
	}
	target := float64(targetSeconds)

	count := chooseSceneCount(target)
	durations := balanceDurations(target, count)
	texts := splitScript(script, count)

	scenes := make([]core.Scene, count)
	for i := 0; i < count; i++ {
		scenes[i] = core.Scene{
			Index:           i,
			Text:            texts[i],
			DurationSeconds: durations[i],
		}
	}
	return scenes
}

// chooseSceneCount picks a count in [3,5] that can cover the target with
// scenes in [4,8] seconds when the target allows it.
func chooseSceneCount(target float64) int {
	count := int(math.Round(target / 6))
	if count < minSceneCount {
		count = minSceneCount
	}
	if count > maxSceneCount {
		count = maxSceneCount
	}

	// Prefer a count whose [4*n, 8*n] envelope contains the target.
	for count > minSceneCount && minSceneSeconds*float64(count) > target {
		count--
	}
	for count < maxSceneCount && maxSceneSeconds*float64(count) < target {
		count++
	}
	return count
}

// balanceDurations spreads the target across count scenes, clamping each
// to the scene window and distributing any remainder to scenes with
// headroom.
func balanceDurations(target float64, count int) []float64 {
	durations := make([]float64, count)
	base := target / float64(count)
	for i := range durations {
		durations[i] = clampSeconds(base)
	}

	remaining := target
	for _, d := range durations {
		remaining -= d
	}

	// Greedy redistribution: push the remainder into whichever scenes
	// still have room, a scene at a time.
	for i := 0; i < count && math.Abs(remaining) > 0.01; i++ {
		var room float64
		if remaining > 0 {
			room = maxSceneSeconds - durations[i]
			if room > remaining {
				room = remaining
			}
		} else {
			room = minSceneSeconds - durations[i] // negative
			if room < remaining {
				room = remaining
			}
		}
		durations[i] += room
		remaining -= room
	}

	for i := range durations {
		durations[i] = math.Round(durations[i]*10) / 10
	}
	return durations
}

func clampSeconds(d float64) float64 {
	if d < minSceneSeconds {
		return minSceneSeconds
	}
	if d > maxSceneSeconds {
		return maxSceneSeconds
	}
	return d
}

// splitScript divides the script across count scenes, keeping sentences
// together when there are enough of them and falling back to word chunks
// for short scripts.
func splitScript(script string, count int) []string {
	sentences := splitSentences(script)

	texts := make([]string, count)
	if len(sentences) >= count {
		per := float64(len(sentences)) / float64(count)
		for i := 0; i < count; i++ {
			start := int(math.Round(float64(i) * per))
			end := int(math.Round(float64(i+1) * per))
			if end > len(sentences) {
				end = len(sentences)
			}
			texts[i] = strings.Join(sentences[start:end], " ")
		}
		return texts
	}

	words := strings.Fields(script)
	if len(words) == 0 {
		return texts
	}
	per := float64(len(words)) / float64(count)
	for i := 0; i < count; i++ {
		start := int(math.Round(float64(i) * per))
		end := int(math.Round(float64(i+1) * per))
		if end > len(words) {
			end = len(words)
		}
		if start > end {
			start = end
		}
		texts[i] = strings.Join(words[start:end], " ")
	}
	return texts
}

func splitSentences(script string) []string {
	raw := strings.FieldsFunc(script, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentences := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
