package model

// Batch represents a minibatch of features and labels.
type Batch struct {
	Inputs [][]float64
	Labels []int
}

// Model defines the training and inference surface of a classifier.
type Model interface {
	TrainStep(batch Batch) float64
	Predict(input []float64) int
}

// Accuracy returns the fraction of batch inputs m labels correctly.
func Accuracy(m Model, batch Batch) float64 {
	if len(batch.Inputs) == 0 {
		return 0
	}
	correct := 0
	for i, in := range batch.Inputs {
		if m.Predict(in) == batch.Labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(batch.Inputs))
}
