package ocr

// Sample is a labeled document text.
type Sample struct {
	Name   string
	Text   string
	IsVote bool
}

// Report is the confusion matrix of a classifier over labeled samples.
type Report struct {
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
	// Misses lists the names of misclassified samples.
	Misses []string
}

// Precision is TP/(TP+FP), or 1 when nothing was predicted positive.
func (r Report) Precision() float64 {
	predicted := r.TruePositives + r.FalsePositives
	if predicted == 0 {
		return 1
	}
	return float64(r.TruePositives) / float64(predicted)
}

// Recall is TP/(TP+FN), or 1 when there are no positives.
func (r Report) Recall() float64 {
	actual := r.TruePositives + r.FalseNegatives
	if actual == 0 {
		return 1
	}
	return float64(r.TruePositives) / float64(actual)
}

// Evaluate scores classify against samples.
func Evaluate(classify func(string) bool, samples []Sample) Report {
	var r Report
	for _, s := range samples {
		got := classify(s.Text)
		switch {
		case got && s.IsVote:
			r.TruePositives++
		case got && !s.IsVote:
			r.FalsePositives++
			r.Misses = append(r.Misses, s.Name)
		case !got && s.IsVote:
			r.FalseNegatives++
			r.Misses = append(r.Misses, s.Name)
		default:
			r.TrueNegatives++
		}
	}
	return r
}
