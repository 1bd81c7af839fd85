package workforce

import (
	"fmt"
	"math"
	"sort"

	"github.com/impactos/engine/pkg/confidence"
	"github.com/impactos/engine/pkg/iomodel"
)

// defaultTierRanges maps each tier to (min, mid, max) Saudi share.
var defaultTierRanges = map[Tier][3]float64{
	SaudiReady:     {0.70, 0.85, 1.00},
	SaudiTrainable: {0.20, 0.40, 0.60},
	ExpatReliant:   {0.00, 0.05, 0.20},
}

// defaultKnownPctSensitivity is the half-width applied around an
// observed Saudi share instead of the tier range.
const defaultKnownPctSensitivity = 0.10

// bridgeResidualTol is the smallest share shortfall that earns an
// explicit UNMAPPED bucket instead of being treated as rounding noise.
const bridgeResidualTol = 1e-6

// ConfidenceLevel grades the workforce result as a whole.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

// confidenceWeights scores each cell's classification confidence for
// the output-weighted summary.
var confidenceWeights = map[string]float64{
	string(confidence.Hard):      1.0,
	string(confidence.Estimated): 0.5,
	string(confidence.Assumed):   0.2,
}

// ConfidenceSummary is the output-weighted data-quality verdict for
// one analysis. WeightedScore weights each cell's classification
// confidence by its absolute job mass; coverage ratios count sectors
// with bridge rows and cells with explicit classifications.
type ConfidenceSummary struct {
	WeightedScore     float64
	BridgeCoverage    float64
	RuleCoverage      float64
	UnclassifiedShare float64
	Level             ConfidenceLevel
	Notes             []string
}

// OccupationImpact is one sector's job change attributed to one
// occupation group.
type OccupationImpact struct {
	SectorCode       string
	OccupationCode   string
	OccupationLabel  string
	Jobs             float64
	ShareOfSector    float64
	BridgeConfidence string
}

// NationalitySplit is the three-tier range estimate for one
// (sector, occupation) cell. Min <= Mid <= Max holds numerically even
// for contractions.
type NationalitySplit struct {
	SectorCode               string
	OccupationCode           string
	Tier                     Tier
	TotalJobs                float64
	SaudiJobsMin             float64
	SaudiJobsMid             float64
	SaudiJobsMax             float64
	ClassificationConfidence string
	CurrentSaudiPct          *float64
	Rationale                string
	Classified               bool
}

// SectorSummary aggregates the workforce picture for one sector.
type SectorSummary struct {
	SectorCode             string
	TotalJobs              float64
	OccupationImpacts      []OccupationImpact
	SaudiReadyJobs         float64
	SaudiTrainableJobs     float64
	ExpatReliantJobs       float64
	ProjectedSaudiMin      float64
	ProjectedSaudiMid      float64
	ProjectedSaudiMax      float64
	ProjectedSaudiPctLow   *float64
	ProjectedSaudiPctHigh  *float64
	OverallConfidence      string
	ConfidenceBreakdown    map[string]int
	TrainingGapOccupations []string
	HasBaseline            bool

	ComplianceStatus ComplianceStatus
	TargetEffective  *float64
	TargetRange      *[2]float64
	NitaqatGapJobs   float64
}

// TrainingGapEntry quantifies trainable jobs short of the target.
type TrainingGapEntry struct {
	SectorCode     string
	OccupationCode string
	Tier           Tier
	TotalJobs      float64
	GapJobs        float64
	NitaqatTarget  *float64
}

// Result is the full workforce refinement output.
type Result struct {
	SectorSummaries []SectorSummary

	TotalJobs           float64
	TotalSaudiMin       float64
	TotalSaudiMid       float64
	TotalSaudiMax       float64
	TotalSaudiPctLow    *float64
	TotalSaudiPctHigh   *float64
	TotalSaudiReady     float64
	TotalSaudiTrainable float64
	TotalExpatReliant   float64

	SectorsCompliant        int
	SectorsAtRisk           int
	SectorsNonCompliant     int
	SectorsNoTarget         int
	SectorsInsufficientData int
	TotalNitaqatGapJobs     float64

	TrainingGaps      []TrainingGapEntry
	OverridesApplied  []AppliedOverride
	OverallConfidence string
	Confidence        ConfidenceSummary
	Caveats           []string

	BridgeVersion         string
	ClassificationVersion string
}

// Satellite runs the 4-step refinement pipeline: occupation
// decomposition, nationality split, compliance check, override
// application. Targets may be nil, yielding NO_TARGET everywhere.
type Satellite struct {
	Bridge          *Bridge
	Classifications *ClassificationSet
	Targets         *Targets

	// TierRanges and KnownPctSensitivity override the engagement
	// defaults when set.
	TierRanges          map[Tier][3]float64
	KnownPctSensitivity float64
}

func (s *Satellite) tierRange(t Tier) [3]float64 {
	if s.TierRanges != nil {
		if r, ok := s.TierRanges[t]; ok {
			return r
		}
	}
	return defaultTierRanges[t]
}

func (s *Satellite) knownPctSensitivity() float64 {
	if s.KnownPctSensitivity > 0 {
		return s.KnownPctSensitivity
	}
	return defaultKnownPctSensitivity
}

// Analyze runs the pipeline over a per-sector job change vector.
func (s *Satellite) Analyze(sectorCodes []string, deltaJobs []float64, baseline []Baseline, overrides []Override) (*Result, error) {
	if len(deltaJobs) != len(sectorCodes) {
		return nil, &iomodel.ValidationError{
			Field: "delta_jobs",
			Msg:   fmt.Sprintf("length %d does not match %d sectors", len(deltaJobs), len(sectorCodes)),
		}
	}

	classifications := s.Classifications
	var applied []AppliedOverride
	if len(overrides) > 0 {
		classifications, applied = classifications.ApplyOverrides(overrides)
	}

	baselineMap := make(map[string]Baseline, len(baseline))
	for _, b := range baseline {
		baselineMap[b.SectorCode] = b
	}

	summaries := make([]SectorSummary, 0, len(sectorCodes))
	var gaps []TrainingGapEntry
	stats := confidenceStats{totalSectors: len(sectorCodes)}
	for i, code := range sectorCodes {
		shares := s.Bridge.Shares(code)
		if len(shares) > 0 {
			stats.bridgedSectors++
		}
		impacts := s.decomposeOccupations(code, deltaJobs[i], shares)
		splits := s.splitNationality(classifications, impacts)
		stats.observe(impacts, splits)
		summary := s.summarizeSector(code, deltaJobs[i], impacts, splits, baselineMap)
		s.checkCompliance(&summary, baselineMap)
		gaps = append(gaps, s.trainingGaps(summary, splits)...)
		summaries = append(summaries, summary)
	}
	sort.SliceStable(gaps, func(i, j int) bool { return gaps[i].GapJobs > gaps[j].GapJobs })

	res := s.buildResult(sectorCodes, summaries, gaps, applied, baselineMap)
	res.Confidence = stats.summary()
	return res, nil
}

// decomposeOccupations splits one sector's jobs across occupation
// groups. A sector without bridge coverage falls back to a single
// elementary-occupations bucket at ASSUMED confidence; a sector whose
// shares sum below 1 keeps the shortfall in an UNMAPPED bucket so no
// job mass disappears.
func (s *Satellite) decomposeOccupations(code string, jobs float64, shares map[string]BridgeEntry) []OccupationImpact {
	if len(shares) == 0 {
		return []OccupationImpact{{
			SectorCode:       code,
			OccupationCode:   elementaryOccupation,
			OccupationLabel:  iscoLabels[elementaryOccupation],
			Jobs:             jobs,
			ShareOfSector:    1.0,
			BridgeConfidence: string(confidence.Assumed),
		}}
	}
	codes := make([]string, 0, len(shares))
	for occ := range shares {
		codes = append(codes, occ)
	}
	sort.Strings(codes)

	out := make([]OccupationImpact, 0, len(codes)+1)
	shareSum := 0.0
	for _, occ := range codes {
		entry := shares[occ]
		label, ok := iscoLabels[occ]
		if !ok {
			label = "ISCO " + occ
		}
		shareSum += entry.Share
		out = append(out, OccupationImpact{
			SectorCode:       code,
			OccupationCode:   occ,
			OccupationLabel:  label,
			Jobs:             jobs * entry.Share,
			ShareOfSector:    entry.Share,
			BridgeConfidence: confidence.Normalize(entry.Confidence),
		})
	}
	if residual := 1.0 - shareSum; residual > bridgeResidualTol {
		out = append(out, OccupationImpact{
			SectorCode:       code,
			OccupationCode:   unmappedOccupation,
			OccupationLabel:  "Unmapped occupations",
			Jobs:             jobs * residual,
			ShareOfSector:    residual,
			BridgeConfidence: string(confidence.Assumed),
		})
	}
	return out
}

// splitNationality classifies each occupation impact into a tier and
// computes the Saudi job range. Missing classifications default to
// expat-reliant at ASSUMED confidence.
func (s *Satellite) splitNationality(set *ClassificationSet, impacts []OccupationImpact) map[string]NationalitySplit {
	out := make(map[string]NationalitySplit, len(impacts))
	for _, impact := range impacts {
		cls := set.Get(impact.SectorCode, impact.OccupationCode)
		split := NationalitySplit{
			SectorCode:     impact.SectorCode,
			OccupationCode: impact.OccupationCode,
			TotalJobs:      impact.Jobs,
		}
		if cls == nil {
			split.Tier = ExpatReliant
			split.ClassificationConfidence = string(confidence.Assumed)
			split.Rationale = fmt.Sprintf("no classification for %s/%s, defaulting to expat_reliant",
				impact.SectorCode, impact.OccupationCode)
		} else {
			split.Tier = cls.Tier
			split.CurrentSaudiPct = cls.CurrentSaudiPct
			split.ClassificationConfidence = confidence.Normalize(cls.Confidence)
			split.Rationale = cls.Rationale
			split.Classified = true
		}
		split.SaudiJobsMin, split.SaudiJobsMid, split.SaudiJobsMax = s.saudiRange(impact.Jobs, split.Tier, split.CurrentSaudiPct)
		out[impact.OccupationCode] = split
	}
	return out
}

// saudiRange computes the (min, mid, max) Saudi job range. An observed
// share narrows the band around the observation; otherwise the tier
// range applies. Negative job changes flip min and max so the range
// stays numerically ordered.
func (s *Satellite) saudiRange(totalJobs float64, tier Tier, currentPct *float64) (min, mid, max float64) {
	var lowPct, midPct, highPct float64
	if currentPct != nil {
		sens := s.knownPctSensitivity()
		midPct = *currentPct
		lowPct = midPct - sens
		if lowPct < 0 {
			lowPct = 0
		}
		highPct = midPct + sens
		if highPct > 1 {
			highPct = 1
		}
	} else {
		r := s.tierRange(tier)
		lowPct, midPct, highPct = r[0], r[1], r[2]
	}

	mid = totalJobs * midPct
	if totalJobs >= 0 {
		return totalJobs * lowPct, mid, totalJobs * highPct
	}
	return totalJobs * highPct, mid, totalJobs * lowPct
}

func (s *Satellite) summarizeSector(code string, jobs float64, impacts []OccupationImpact, splits map[string]NationalitySplit, baselineMap map[string]Baseline) SectorSummary {
	sum := SectorSummary{
		SectorCode:          code,
		TotalJobs:           jobs,
		OccupationImpacts:   impacts,
		ConfidenceBreakdown: make(map[string]int),
	}

	var allConf []string
	for _, impact := range impacts {
		allConf = append(allConf, impact.BridgeConfidence)
		split, ok := splits[impact.OccupationCode]
		if !ok {
			continue
		}
		allConf = append(allConf, split.ClassificationConfidence)
		switch split.Tier {
		case SaudiReady:
			sum.SaudiReadyJobs += split.TotalJobs
		case SaudiTrainable:
			sum.SaudiTrainableJobs += split.TotalJobs
			sum.TrainingGapOccupations = append(sum.TrainingGapOccupations, split.OccupationCode)
		default:
			sum.ExpatReliantJobs += split.TotalJobs
		}
		sum.ProjectedSaudiMin += split.SaudiJobsMin
		sum.ProjectedSaudiMid += split.SaudiJobsMid
		sum.ProjectedSaudiMax += split.SaudiJobsMax
		sum.ConfidenceBreakdown[split.ClassificationConfidence]++
	}
	sum.OverallConfidence = confidence.Worst(allConf...)

	if bl, ok := baselineMap[code]; ok {
		sum.HasBaseline = true
		postTotal := bl.TotalEmployment + jobs
		if postTotal > 0 {
			low := clamp01((bl.SaudiEmployment + sum.ProjectedSaudiMin) / postTotal)
			high := clamp01((bl.SaudiEmployment + sum.ProjectedSaudiMax) / postTotal)
			sum.ProjectedSaudiPctLow = &low
			sum.ProjectedSaudiPctHigh = &high
		}
	}
	return sum
}

// checkCompliance assigns the 5-state verdict: the low end of the
// projected range clearing the target's high end is COMPLIANT, the high
// end missing the target's low end is NON_COMPLIANT, anything between
// is AT_RISK.
func (s *Satellite) checkCompliance(sum *SectorSummary, baselineMap map[string]Baseline) {
	if s.Targets == nil {
		sum.ComplianceStatus = NoTarget
		return
	}
	target := s.Targets.Get(sum.SectorCode)
	if target == nil {
		sum.ComplianceStatus = NoTarget
		return
	}
	eff := target.EffectivePct
	sum.TargetEffective = &eff
	sum.TargetRange = &[2]float64{target.RangeLow, target.RangeHigh}

	bl, ok := baselineMap[sum.SectorCode]
	if !ok {
		sum.ComplianceStatus = InsufficientData
		return
	}
	postTotal := bl.TotalEmployment + sum.TotalJobs
	if postTotal <= 0 {
		sum.ComplianceStatus = InsufficientData
		return
	}

	lowPct := (bl.SaudiEmployment + sum.ProjectedSaudiMin) / postTotal
	midPct := (bl.SaudiEmployment + sum.ProjectedSaudiMid) / postTotal
	highPct := (bl.SaudiEmployment + sum.ProjectedSaudiMax) / postTotal

	switch {
	case lowPct >= target.RangeHigh:
		sum.ComplianceStatus = Compliant
	case highPct < target.RangeLow:
		sum.ComplianceStatus = NonCompliant
	default:
		sum.ComplianceStatus = AtRisk
	}
	if gap := (target.EffectivePct - midPct) * postTotal; gap > 0 {
		sum.NitaqatGapJobs = gap
	}
}

// trainingGaps lists trainable occupations short of the target.
// Contraction sectors are skipped: shrinking headcount has no training
// demand.
func (s *Satellite) trainingGaps(sum SectorSummary, splits map[string]NationalitySplit) []TrainingGapEntry {
	if sum.TotalJobs < 0 {
		return nil
	}
	var out []TrainingGapEntry
	for _, occ := range sum.TrainingGapOccupations {
		split, ok := splits[occ]
		if !ok || split.TotalJobs <= 0 {
			continue
		}
		var gap float64
		if sum.TargetEffective != nil {
			gap = split.TotalJobs * (*sum.TargetEffective - split.SaudiJobsMid/split.TotalJobs)
		} else {
			gap = split.SaudiJobsMid
		}
		if gap < 0 {
			gap = 0
		}
		out = append(out, TrainingGapEntry{
			SectorCode:     sum.SectorCode,
			OccupationCode: occ,
			Tier:           split.Tier,
			TotalJobs:      split.TotalJobs,
			GapJobs:        gap,
			NitaqatTarget:  sum.TargetEffective,
		})
	}
	return out
}

func (s *Satellite) buildResult(sectorCodes []string, summaries []SectorSummary, gaps []TrainingGapEntry, applied []AppliedOverride, baselineMap map[string]Baseline) *Result {
	res := &Result{
		SectorSummaries:       summaries,
		TrainingGaps:          gaps,
		OverridesApplied:      applied,
		BridgeVersion:         fmt.Sprintf("%d", s.Bridge.Year),
		ClassificationVersion: fmt.Sprintf("%d", s.Classifications.Year),
	}
	var allConf []string
	for _, sum := range summaries {
		res.TotalJobs += sum.TotalJobs
		res.TotalSaudiMin += sum.ProjectedSaudiMin
		res.TotalSaudiMid += sum.ProjectedSaudiMid
		res.TotalSaudiMax += sum.ProjectedSaudiMax
		res.TotalSaudiReady += sum.SaudiReadyJobs
		res.TotalSaudiTrainable += sum.SaudiTrainableJobs
		res.TotalExpatReliant += sum.ExpatReliantJobs
		res.TotalNitaqatGapJobs += sum.NitaqatGapJobs
		allConf = append(allConf, sum.OverallConfidence)

		switch sum.ComplianceStatus {
		case Compliant:
			res.SectorsCompliant++
		case AtRisk:
			res.SectorsAtRisk++
		case NonCompliant:
			res.SectorsNonCompliant++
		case NoTarget:
			res.SectorsNoTarget++
		case InsufficientData:
			res.SectorsInsufficientData++
		}
	}
	if res.TotalJobs > 0 {
		low := res.TotalSaudiMin / res.TotalJobs
		high := res.TotalSaudiMax / res.TotalJobs
		res.TotalSaudiPctLow = &low
		res.TotalSaudiPctHigh = &high
	}
	res.OverallConfidence = confidence.Worst(allConf...)
	res.Caveats = s.buildCaveats(sectorCodes, baselineMap, applied)
	return res
}

func (s *Satellite) buildCaveats(sectorCodes []string, baselineMap map[string]Baseline, applied []AppliedOverride) []string {
	caveats := []string{
		"occupation bridge is expert-estimated, not cross-tabulated microdata",
		"nationality split is assumption-based and presented as ranges, not predictions",
		"nitaqat compliance is macro-level and ignores firm-size and salary-weighting rules",
	}
	var missing []string
	for _, code := range sectorCodes {
		if _, ok := baselineMap[code]; !ok {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		head := missing
		suffix := ""
		if len(missing) > 5 {
			head = missing[:5]
			suffix = fmt.Sprintf(" and %d more", len(missing)-5)
		}
		caveats = append(caveats, fmt.Sprintf(
			"baseline Saudi shares unavailable for sectors %v%s, compliance cannot be assessed", head, suffix))
	}
	for _, ov := range applied {
		caveats = append(caveats, fmt.Sprintf(
			"classification override applied to %s/%s by %s", ov.SectorCode, ov.OccupationCode, ov.OverriddenBy))
	}
	return caveats
}

// confidenceStats accumulates the quality picture across every
// (sector, occupation) cell of one analysis.
type confidenceStats struct {
	totalSectors   int
	bridgedSectors int

	totalCells      int
	classifiedCells int

	totalAbsJobs        float64
	weightedAbsJobs     float64
	unclassifiedAbsJobs float64

	notes []string
}

func (cs *confidenceStats) observe(impacts []OccupationImpact, splits map[string]NationalitySplit) {
	for _, impact := range impacts {
		if impact.OccupationCode == unmappedOccupation {
			cs.notes = append(cs.notes, fmt.Sprintf(
				"sector %s: %.0f%% of jobs have no bridge coverage, held in %s",
				impact.SectorCode, impact.ShareOfSector*100, unmappedOccupation))
		}
		split, ok := splits[impact.OccupationCode]
		if !ok {
			continue
		}
		abs := math.Abs(impact.Jobs)
		cs.totalCells++
		cs.totalAbsJobs += abs
		cs.weightedAbsJobs += confidenceWeights[split.ClassificationConfidence] * abs
		if split.Classified {
			cs.classifiedCells++
		} else {
			cs.unclassifiedAbsJobs += abs
		}
	}
}

// summary grades the accumulated evidence. More than half the job mass
// lacking a classification caps the level at LOW regardless of the
// other scores.
func (cs *confidenceStats) summary() ConfidenceSummary {
	sum := ConfidenceSummary{Level: ConfidenceMedium, Notes: cs.notes}
	if cs.totalAbsJobs > 0 {
		sum.WeightedScore = cs.weightedAbsJobs / cs.totalAbsJobs
		sum.UnclassifiedShare = cs.unclassifiedAbsJobs / cs.totalAbsJobs
	}
	if cs.totalSectors > 0 {
		sum.BridgeCoverage = float64(cs.bridgedSectors) / float64(cs.totalSectors)
	}
	if cs.totalCells > 0 {
		sum.RuleCoverage = float64(cs.classifiedCells) / float64(cs.totalCells)
	}
	switch {
	case sum.UnclassifiedShare > 0.50:
		sum.Level = ConfidenceLow
		sum.Notes = append(sum.Notes, fmt.Sprintf(
			"%.0f%% of job mass is unclassified, confidence capped at LOW", sum.UnclassifiedShare*100))
	case sum.WeightedScore < 0.4 || sum.BridgeCoverage < 0.5 || sum.RuleCoverage < 0.5:
		sum.Level = ConfidenceLow
	case sum.WeightedScore >= 0.7 && sum.BridgeCoverage >= 0.8 && sum.RuleCoverage >= 0.8:
		sum.Level = ConfidenceHigh
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
