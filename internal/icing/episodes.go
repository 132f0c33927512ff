package icing

import (
	"slices"
	"strings"
	"time"
)

const (
	DefaultEpisodeMinHours = 3
	DefaultEpisodeMaxGap   = 2 * time.Hour
)

// Episode is a run of HIGH-risk hours at one farm.
type Episode struct {
	FarmID         string
	Start          time.Time
	End            time.Time
	Hours          int
	MeanTemp       float64
	MeanSpread     float64
	MeanWindSpeed  float64
	MeanGustFactor *float64
}

// DetectEpisodes groups HIGH-risk hours per farm. A gap longer than maxGap
// from the previous HIGH hour starts a new episode; episodes shorter than
// minHours are dropped. Results are ordered by duration (longest first),
// then farm, then start.
func DetectEpisodes(classifications []Classification, minHours int, maxGap time.Duration) []Episode {
	if minHours <= 0 {
		minHours = DefaultEpisodeMinHours
	}
	if maxGap <= 0 {
		maxGap = DefaultEpisodeMaxGap
	}

	byFarm := make(map[string][]Classification)
	for _, c := range classifications {
		if c.RiskLevel != RiskHigh {
			continue
		}
		byFarm[c.FarmID] = append(byFarm[c.FarmID], c)
	}

	var episodes []Episode
	for farmID, hours := range byFarm {
		slices.SortFunc(hours, func(a, b Classification) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		var run []Classification
		flush := func() {
			if len(run) >= minHours {
				episodes = append(episodes, summarizeEpisode(farmID, run))
			}
			run = run[:0]
		}
		for _, h := range hours {
			if len(run) > 0 && h.Timestamp.Sub(run[len(run)-1].Timestamp) > maxGap {
				flush()
			}
			run = append(run, h)
		}
		flush()
	}

	slices.SortFunc(episodes, func(a, b Episode) int {
		if a.Hours != b.Hours {
			return b.Hours - a.Hours
		}
		if c := strings.Compare(a.FarmID, b.FarmID); c != 0 {
			return c
		}
		return a.Start.Compare(b.Start)
	})
	return episodes
}

func summarizeEpisode(farmID string, run []Classification) Episode {
	ep := Episode{
		FarmID: farmID,
		Start:  run[0].Timestamp,
		End:    run[len(run)-1].Timestamp,
		Hours:  len(run),
	}
	var gust mean
	for _, c := range run {
		ep.MeanTemp += c.Temperature2m
		ep.MeanSpread += c.DewPointSpreadC
		ep.MeanWindSpeed += c.WindSpeed100m
		if c.GustFactor != nil {
			gust.add(*c.GustFactor)
		}
	}
	n := float64(len(run))
	ep.MeanTemp /= n
	ep.MeanSpread /= n
	ep.MeanWindSpeed /= n
	ep.MeanGustFactor = gust.value()
	return ep
}
