package model

import (
	"math"
	"testing"
)

func TestSoftmaxTrainStepReducesLoss(t *testing.T) {
	model := NewSoftmax(3, 4, 0.1, 1)
	batch := Batch{
		Inputs: [][]float64{
			{0.1, 0.2, 0.3, 0.4},
			{0.4, 0.3, 0.2, 0.1},
		},
		Labels: []int{1, 2},
	}
	loss1 := model.TrainStep(batch)
	loss2 := model.TrainStep(batch)
	if loss2 > loss1 {
		t.Fatalf("expected loss to decrease; loss1=%f loss2=%f", loss1, loss2)
	}
}

func TestSoftmaxLearnsSeparableData(t *testing.T) {
	model := NewSoftmax(2, 2, 0.5, 3)
	batch := Batch{
		Inputs: [][]float64{{1, 0}, {0.9, 0.1}, {0, 1}, {0.1, 0.9}},
		Labels: []int{0, 0, 1, 1},
	}
	for i := 0; i < 100; i++ {
		model.TrainStep(batch)
	}
	if acc := Accuracy(model, batch); acc != 1 {
		t.Fatalf("expected perfect accuracy, got %f", acc)
	}
	probs := model.Probabilities([]float64{1, 0})
	if math.Abs(probs[0]+probs[1]-1) > 1e-12 {
		t.Fatalf("probabilities do not sum to 1: %v", probs)
	}
}

func TestPredictRejectsWrongWidth(t *testing.T) {
	if got := NewSoftmax(2, 3, 0.1, 1).Predict([]float64{1}); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestStandardizer(t *testing.T) {
	s := FitStandardizer([][]float64{{1, 5}, {3, 5}})
	out := s.Apply([]float64{3, 5})
	if math.Abs(out[0]-1) > 1e-12 || out[1] != 0 {
		t.Fatalf("unexpected standardised values %v", out)
	}
}
