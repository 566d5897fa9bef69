package arb

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"arbitrage/internal/models"
)

// MatcherConfig задаёт допуски сопоставления, см. spec §4.3.
type MatcherConfig struct {
	ResolutionTolerance time.Duration // 60s по умолчанию
	OffsetCorrection    time.Duration // ±900s, откалиброванное единоразовое смещение
	ThresholdTick       float64       // допуск сравнения страйка, извлечённого из заголовка
	AssetEquivalence    map[string][]string
	SourceEquivalence   map[string][]string
}

// DefaultMatcherConfig — таблицы эквивалентности по умолчанию.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		ResolutionTolerance: 60 * time.Second,
		OffsetCorrection:    900 * time.Second,
		ThresholdTick:       1.0,
		AssetEquivalence: map[string][]string{
			"btc": {"btc", "bitcoin", "xbt"},
			"eth": {"eth", "ethereum"},
		},
		SourceEquivalence: map[string][]string{
			"coindesk": {"coindesk", "coindeskbtc", "coindesk-btc"},
			"chainlink": {"chainlink", "chainlink-oracle"},
		},
	}
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "will": {}, "price": {},
	"of": {}, "to": {}, "on": {}, "at": {}, "by": {},
}

// Matcher — Event Matcher (C3): сопоставляет каталоги двух площадок в
// список эквивалентных пар. Не хранит состояния между вызовами Match —
// вызывающая сторона (Orchestrator, C8) решает, когда пересобирать пары.
type Matcher struct {
	cfg MatcherConfig
}

func NewMatcher(cfg MatcherConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// Match сопоставляет каталог площадки A с каталогом площадки B.
// Сложность O(N·M); приемлемо на текущих масштабах каталогов (spec §4.3).
func (m *Matcher) Match(catalogA, catalogB []models.Market) []models.MatchedPair {
	out := make([]models.MatchedPair, 0, len(catalogA))
	for i := range catalogA {
		a := &catalogA[i]
		assetA := m.normalizeAsset(a.Title)
		// AssetTag — канонический ключ группы эквивалентности, чьё слово есть
		// в заголовке; без совпадения — весь нормализованный заголовок.
		tagA := assetA
	findTag:
		for canon, group := range m.cfg.AssetEquivalence {
			for _, tok := range group {
				for _, w := range strings.Fields(assetA) {
					if w == tok {
						tagA = canon
						break findTag
					}
				}
			}
		}
		for j := range catalogB {
			b := &catalogB[j]

			if !m.assetsEquivalent(assetA, m.normalizeAsset(b.Title)) {
				continue
			}
			if !m.resolutionTimesMatch(a.ResolutionTime, b.ResolutionTime) {
				continue
			}
			if !m.sourcesEquivalent(a.ResolutionSrc, b.ResolutionSrc) {
				continue
			}
			if !m.shapeMatches(a, b) {
				continue
			}

			out = append(out, models.MatchedPair{
				VenueA:         *a,
				VenueB:         *b,
				ResolutionTime: a.ResolutionTime,
				AssetTag:       tagA,
				Key:            pairKey(a, b),
				CreatedAt:      time.Now(),
			})
		}
	}
	return out
}

// normalizeAsset приводит заголовок рынка к грубому токену актива: нижний
// регистр, без пунктуации, без стоп-слов — без открытого fuzzy-поиска,
// только явная нормализация (см. SPEC_FULL.md §4.3 DOMAIN STACK).
func (m *Matcher) normalizeAsset(title string) string {
	lower := strings.ToLower(title)
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func (m *Matcher) assetsEquivalent(a, b string) bool {
	if a == b {
		return true
	}
	for _, group := range m.cfg.AssetEquivalence {
		inA, inB := false, false
		for _, tok := range group {
			if strings.Contains(a, tok) {
				inA = true
			}
			if strings.Contains(b, tok) {
				inB = true
			}
		}
		if inA && inB {
			return true
		}
	}
	return false
}

func (m *Matcher) sourcesEquivalent(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la == lb {
		return true
	}
	for _, group := range m.cfg.SourceEquivalence {
		inA, inB := false, false
		for _, tok := range group {
			if la == tok {
				inA = true
			}
			if lb == tok {
				inB = true
			}
		}
		if inA && inB {
			return true
		}
	}
	return false
}

// resolutionTimesMatch допускает основной допуск в 60с либо единоразовую
// калиброванную коррекцию в ±900с (нерешённый вопрос §9(i) — принятое
// решение зафиксировано в DESIGN.md).
func (m *Matcher) resolutionTimesMatch(a, b time.Time) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	if diff <= m.cfg.ResolutionTolerance {
		return true
	}
	offDiff := diff - m.cfg.OffsetCorrection
	if offDiff < 0 {
		offDiff = -offDiff
	}
	return offDiff <= m.cfg.ResolutionTolerance
}

// thresholdPattern вытаскивает числовой страйк из заголовка рынка вида
// "... above $60,000 ..." — единственный формат, которым оба venue
// формулируют порог в заголовке.
var thresholdPattern = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)

// extractThreshold возвращает числовой страйк из заголовка, если он там есть.
func extractThreshold(title string) (float64, bool) {
	match := thresholdPattern.FindStringSubmatch(title)
	if match == nil {
		return 0, false
	}
	cleaned := strings.ReplaceAll(match[1], ",", "")
	val, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}

// shapeMatches проверяет, что оба рынка бинарны (не "схлопнулись" в
// вырожденный рынок с отрицательными ценами) и, если оба заголовка несут
// явный числовой страйк, что страйки совпадают в пределах одного тика —
// иначе сторона арбитража считает эквивалентными два рынка с разными
// порогами резолюции (см. spec §4.3 Shape).
func (m *Matcher) shapeMatches(a, b *models.Market) bool {
	const tick = 0.01
	if a.YesPrice < -tick || a.NoPrice < -tick || b.YesPrice < -tick || b.NoPrice < -tick {
		return false
	}

	ta, okA := extractThreshold(a.Title)
	tb, okB := extractThreshold(b.Title)
	if !okA || !okB {
		return true // ни один заголовок не несёт явного страйка — сравнивать нечего
	}
	diff := ta - tb
	if diff < 0 {
		diff = -diff
	}
	return diff <= m.cfg.ThresholdTick
}

func pairKey(a, b *models.Market) string {
	return string(a.Venue) + ":" + a.InstrumentID + "|" + string(b.Venue) + ":" + b.InstrumentID
}
