package merge

import (
	"math"
	"time"
)

// Question は字幕タイムライン上の質問1件
type Question struct {
	ID             string  `json:"id"`
	QuestionNumber int     `json:"questionNumber"`
	Category       string  `json:"category"`
	Text           string  `json:"text"`
	StartTime      float64 `json:"startTime"`
	EndTime        float64 `json:"endTime"`
	Duration       float64 `json:"duration"`
}

// Subtitle は字幕ファイルとして公開するJSON
type Subtitle struct {
	SessionID      string     `json:"sessionId"`
	TotalDuration  float64    `json:"totalDuration"`
	CreatedAt      time.Time  `json:"createdAt"`
	MergedVideoURL string     `json:"mergedVideoUrl"`
	Questions      []Question `json:"questions"`
}

// BuildTimeline は sequenceNumber 順のセグメントと各長さから質問ごとの区間を計算します
//
// 区間の境界は累積時間に係数 actualDuration/Σdurations を掛けて丸めた値です。
// これにより区間は隙間なく連続し、最後の終了時刻は round(actualDuration) と一致します。
// Σdurations が 0 の場合は actualDuration を均等に分割します。
// セグメントが1件の場合は係数を掛けず [0, round(durations[0])] とします。
func BuildTimeline(segments []Segment, durations []float64, actualDuration float64) []Question {
	n := len(segments)
	questions := make([]Question, 0, n)
	if n == 0 {
		return questions
	}

	bounds := boundaries(durations, n, actualDuration)

	prev := 0.0
	for i, seg := range segments {
		end := bounds[i]
		questions = append(questions, Question{
			ID:             seg.PromptID,
			QuestionNumber: i + 1,
			Category:       seg.Category,
			Text:           seg.QuestionText,
			StartTime:      prev,
			EndTime:        end,
			Duration:       end - prev,
		})
		prev = end
	}
	return questions
}

// ScaleFactor は申告長の合計を実測長に合わせる係数を返します
// 合計が 0 または実測が不明な場合は 1
func ScaleFactor(durations []float64, actualDuration float64) float64 {
	estimated := sumDurations(durations)
	if estimated <= 0 || !validDuration(actualDuration) {
		return 1
	}
	return actualDuration / estimated
}

func boundaries(durations []float64, n int, actual float64) []float64 {
	bounds := make([]float64, n)
	d := normalized(durations, n)

	if n == 1 {
		bounds[0] = math.Round(d[0])
		return bounds
	}

	estimated := sumDurations(d)
	if !validDuration(actual) {
		actual = estimated
	}

	if estimated <= 0 {
		for i := range bounds {
			bounds[i] = math.Round(actual * float64(i+1) / float64(n))
		}
		return bounds
	}

	scale := actual / estimated
	cumulative := 0.0
	for i := range bounds {
		cumulative += d[i]
		bounds[i] = math.Round(cumulative * scale)
	}
	// 浮動小数点誤差で最後の境界がずれないように固定する
	bounds[n-1] = math.Round(actual)
	return bounds
}

// normalized は長さを n 件に揃え、負値や非数を 0 にします
func normalized(durations []float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i < len(durations) && validDuration(durations[i]) {
			out[i] = durations[i]
		}
	}
	return out
}

func sumDurations(durations []float64) float64 {
	total := 0.0
	for _, d := range durations {
		if validDuration(d) {
			total += d
		}
	}
	return total
}

func validDuration(d float64) bool {
	return d >= 0 && !math.IsNaN(d) && !math.IsInf(d, 0)
}
