package emotion

import (
	"regexp"
	"strings"
)

// Category 表示讲课语气的情绪类别。
type Category string

const (
	None    Category = ""
	Excited Category = "excited"
	Serious Category = "serious"
	Calm    Category = "calm"
	Sad     Category = "sad"
)

const (
	// MinConfidence 低于该阈值时视为无明显情绪。
	MinConfidence = 0.4
	// MarkupConfidence 超过该阈值才对文本做强调标记。
	MarkupConfidence = 0.75
)

var patternBuckets = map[Category][]*regexp.Regexp{
	Excited: {
		regexp.MustCompile(`(?i)\b(amazing|awesome|fantastic|incredible|excellent|wonderful|wow|congratulations)\b`),
		regexp.MustCompile(`(?i)\b(great job|well done|let's go)\b`),
		regexp.MustCompile(`!{2,}`),
		regexp.MustCompile(`太棒了|真棒|厉害|精彩|恭喜`),
	},
	Serious: {
		regexp.MustCompile(`(?i)\b(important|attention|must|exam|test|deadline|warning|remember|required)\b`),
		regexp.MustCompile(`(?i)\b(listen carefully|pay attention)\b`),
		regexp.MustCompile(`注意|重要|必须|考试|务必|记住`),
	},
	Calm: {
		regexp.MustCompile(`(?i)\b(relax|slowly|gently|breathe|quietly|calm|settle down)\b`),
		regexp.MustCompile(`(?i)\b(take your time|no rush|one step at a time)\b`),
		regexp.MustCompile(`放松|慢慢|轻轻|安静|别着急`),
	},
	Sad: {
		regexp.MustCompile(`(?i)\b(unfortunately|sorry|sadly|regret|failed|loss|miss)\b`),
		regexp.MustCompile(`(?i)\b(bad news|passed away)\b`),
		regexp.MustCompile(`遗憾|难过|可惜|抱歉|悲伤`),
	},
}

var speedMultipliers = map[Category]float32{
	Excited: 1.15,
	Serious: 0.9,
	Calm:    0.95,
	Sad:     0.85,
}

// Classification 给出单个类别的匹配结果。
type Classification struct {
	Category   Category
	Confidence float64
	Matches    int
}

// Classify 对文本做启发式情绪判定。每个类别统计命中的模式数与总命中次数，
// 置信度为 min(0.3 + 0.5*命中模式占比 + 20*总命中/文本长度, 1)，
// 取置信度最高且超过 MinConfidence 的类别。
func Classify(text string) Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Classification{Category: None}
	}

	best := Classification{Category: None}
	for category, patterns := range patternBuckets {
		matchedPatterns := 0
		totalMatches := 0
		for _, p := range patterns {
			hits := len(p.FindAllStringIndex(trimmed, -1))
			if hits > 0 {
				matchedPatterns++
				totalMatches += hits
			}
		}
		if matchedPatterns == 0 {
			continue
		}

		ratio := float64(matchedPatterns) / float64(len(patterns))
		confidence := 0.3 + 0.5*ratio + 20*float64(totalMatches)/float64(len(trimmed))
		if confidence > 1 {
			confidence = 1
		}

		if confidence > best.Confidence {
			best = Classification{Category: category, Confidence: confidence, Matches: totalMatches}
		}
	}

	if best.Confidence < MinConfidence {
		return Classification{Category: None}
	}
	return best
}

// Style 是情绪判定映射出的合成参数。
type Style struct {
	Category        Category
	Confidence      float64
	SpeedMultiplier float32
	Text            string
}

// StyleFor 根据文本推导合成语速与可选的强调标记。语速倍率被夹在
// [minSpeed, maxSpeed] 区间内；只有置信度超过 MarkupConfidence 才改写文本。
func StyleFor(text string, minSpeed, maxSpeed float32) Style {
	cls := Classify(text)
	style := Style{Category: cls.Category, Confidence: cls.Confidence, SpeedMultiplier: 1.0, Text: text}
	if cls.Category == None {
		return style
	}

	speed := speedMultipliers[cls.Category]
	if speed == 0 {
		speed = 1.0
	}
	if minSpeed > 0 && speed < minSpeed {
		speed = minSpeed
	}
	if maxSpeed > 0 && speed > maxSpeed {
		speed = maxSpeed
	}
	style.SpeedMultiplier = speed

	if cls.Confidence > MarkupConfidence {
		style.Text = markupExclamations(text)
	}
	return style
}

var exclamatoryWord = regexp.MustCompile(`([\p{L}\p{N}']+)(!+)`)

// markupExclamations 将感叹号前的词改为大写，用于提示合成引擎加重语气。
func markupExclamations(text string) string {
	return exclamatoryWord.ReplaceAllStringFunc(text, func(match string) string {
		parts := exclamatoryWord.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		return strings.ToUpper(parts[1]) + parts[2]
	})
}
