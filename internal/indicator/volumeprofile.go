package indicator

import "marketcore/internal/model"

// VolumeLevel is one price bucket of a volume profile.
type VolumeLevel struct {
	PriceLow  float64 `json:"price_low"`
	PriceHigh float64 `json:"price_high"`
	Volume    float64 `json:"volume"`
}

// VolumeProfileResult is the volume-at-price distribution for a bar window.
type VolumeProfileResult struct {
	Levels        []VolumeLevel `json:"levels"`
	POC           VolumeLevel   `json:"poc"`
	ValueAreaLow  float64       `json:"value_area_low"`
	ValueAreaHigh float64       `json:"value_area_high"`
	TotalVolume   float64       `json:"total_volume"`
}

// valueAreaFraction is the share of total volume the value area must hold.
const valueAreaFraction = 0.70

// VolumeProfile partitions [min(low), max(high)] into numLevels equal price
// buckets and distributes each bar's volume uniformly across every bucket its
// [low, high] range spans (entirely into one bucket when the bar has zero
// range). POC is the bucket with maximum volume. The value area is the
// smallest contiguous bucket span around the POC holding at least 70% of
// total volume, grown one side at a time toward whichever neighbor currently
// carries more volume.
func VolumeProfile(bars []model.Bar, numLevels int) VolumeProfileResult {
	if numLevels <= 0 || len(bars) == 0 {
		return VolumeProfileResult{}
	}

	minLow := bars[0].Low.InexactFloat64()
	maxHigh := bars[0].High.InexactFloat64()
	for _, b := range bars[1:] {
		if l := b.Low.InexactFloat64(); l < minLow {
			minLow = l
		}
		if h := b.High.InexactFloat64(); h > maxHigh {
			maxHigh = h
		}
	}

	levels := make([]VolumeLevel, numLevels)
	step := (maxHigh - minLow) / float64(numLevels)
	for i := range levels {
		levels[i].PriceLow = minLow + float64(i)*step
		levels[i].PriceHigh = minLow + float64(i+1)*step
	}

	total := 0.0
	for _, b := range bars {
		vol := b.Volume.InexactFloat64()
		total += vol
		lo := bucketIndex(b.Low.InexactFloat64(), minLow, step, numLevels)
		hi := bucketIndex(b.High.InexactFloat64(), minLow, step, numLevels)
		span := hi - lo + 1
		share := vol / float64(span)
		for i := lo; i <= hi; i++ {
			levels[i].Volume += share
		}
	}

	pocIdx := 0
	for i := range levels {
		if levels[i].Volume > levels[pocIdx].Volume {
			pocIdx = i
		}
	}

	// Grow the value area outward from the POC.
	low, high := pocIdx, pocIdx
	covered := levels[pocIdx].Volume
	for covered < valueAreaFraction*total && (low > 0 || high < numLevels-1) {
		below, above := -1.0, -1.0
		if low > 0 {
			below = levels[low-1].Volume
		}
		if high < numLevels-1 {
			above = levels[high+1].Volume
		}
		if above >= below {
			high++
			covered += levels[high].Volume
		} else {
			low--
			covered += levels[low].Volume
		}
	}

	return VolumeProfileResult{
		Levels:        levels,
		POC:           levels[pocIdx],
		ValueAreaLow:  levels[low].PriceLow,
		ValueAreaHigh: levels[high].PriceHigh,
		TotalVolume:   total,
	}
}

// bucketIndex maps a price to its bucket, clamping the top edge into the
// last bucket. A zero step (flat window) collapses everything to bucket 0.
func bucketIndex(price, minLow, step float64, numLevels int) int {
	if step <= 0 {
		return 0
	}
	idx := int((price - minLow) / step)
	if idx < 0 {
		idx = 0
	}
	if idx >= numLevels {
		idx = numLevels - 1
	}
	return idx
}
