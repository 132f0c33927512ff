package icing

// LevelStats summarizes all hours at one risk level.
type LevelStats struct {
	Level          RiskLevel
	Hours          int
	Percentage     float64
	MeanTemp       float64
	MeanSpread     float64
	MeanWindSpeed  float64
	MeanGustFactor *float64 // over hours with a defined gust factor
}

// MechanismCounts counts mechanism flags among HIGH and MEDIUM hours.
type MechanismCounts struct {
	Total               int
	SupercooledDroplet  int
	BladeTipCoolingRisk int
	TurbulentIcingRisk  int
}

var levelOrder = []RiskLevel{RiskHigh, RiskMedium, RiskLow}

// Distribution returns stats for each level that has at least one hour,
// ordered HIGH, MEDIUM, LOW.
func Distribution(classifications []Classification) []LevelStats {
	type acc struct {
		hours              int
		temp, spread, wind float64
		gust               mean
	}
	accs := make(map[RiskLevel]*acc, len(levelOrder))
	for _, c := range classifications {
		a, ok := accs[c.RiskLevel]
		if !ok {
			a = &acc{}
			accs[c.RiskLevel] = a
		}
		a.hours++
		a.temp += c.Temperature2m
		a.spread += c.DewPointSpreadC
		a.wind += c.WindSpeed100m
		if c.GustFactor != nil {
			a.gust.add(*c.GustFactor)
		}
	}

	total := float64(len(classifications))
	var out []LevelStats
	for _, level := range levelOrder {
		a, ok := accs[level]
		if !ok {
			continue
		}
		n := float64(a.hours)
		out = append(out, LevelStats{
			Level:          level,
			Hours:          a.hours,
			Percentage:     n * 100 / total,
			MeanTemp:       a.temp / n,
			MeanSpread:     a.spread / n,
			MeanWindSpeed:  a.wind / n,
			MeanGustFactor: a.gust.value(),
		})
	}
	return out
}

func Mechanisms(classifications []Classification) MechanismCounts {
	var m MechanismCounts
	for _, c := range classifications {
		if c.RiskLevel != RiskHigh && c.RiskLevel != RiskMedium {
			continue
		}
		m.Total++
		if c.SupercooledDroplet {
			m.SupercooledDroplet++
		}
		if c.BladeTipCoolingRisk {
			m.BladeTipCoolingRisk++
		}
		if c.TurbulentIcingRisk {
			m.TurbulentIcingRisk++
		}
	}
	return m
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}
