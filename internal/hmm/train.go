package hmm

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// initFromData sets each state's mean and variance from an equal-length
// slice of every sequence, so state i starts on the i-th segment in time.
func (m *Model) initFromData(seqs [][][]float64) {
	sums := make([][]float64, m.States)
	sq := make([][]float64, m.States)
	counts := make([]float64, m.States)
	for i := range sums {
		sums[i] = make([]float64, m.Dim)
		sq[i] = make([]float64, m.Dim)
	}
	for _, seq := range seqs {
		for t, x := range seq {
			s := t * m.States / len(seq)
			counts[s]++
			for d, v := range x {
				sums[s][d] += v
				sq[s][d] += v * v
			}
		}
	}
	for s := 0; s < m.States; s++ {
		if counts[s] == 0 {
			continue
		}
		for d := 0; d < m.Dim; d++ {
			mean := sums[s][d] / counts[s]
			m.Means[s][d] = mean
			m.Vars[s][d] = math.Max(sq[s][d]/counts[s]-mean*mean, varianceFloor)
		}
	}
}

// Fit runs Baum-Welch re-estimation until the total log-likelihood improves
// by less than tol or iters rounds have run. It returns the total
// log-likelihood of seqs under the final model.
func (m *Model) Fit(seqs [][][]float64, iters int, tol float64) (float64, error) {
	if len(seqs) == 0 {
		return 0, ErrEmptySequence
	}
	for _, seq := range seqs {
		if err := m.check(seq); err != nil {
			return 0, err
		}
	}
	m.initFromData(seqs)

	prev := math.Inf(-1)
	for it := 0; it < iters; it++ {
		total := m.reestimate(seqs)
		if total-prev < tol {
			break
		}
		prev = total
	}
	return m.totalLogLikelihood(seqs), nil
}

func (m *Model) totalLogLikelihood(seqs [][][]float64) float64 {
	total := 0.0
	for _, seq := range seqs {
		ll, _ := m.LogLikelihood(seq)
		total += ll
	}
	return total
}

// reestimate performs one EM round and returns the log-likelihood of seqs
// under the parameters that were in effect before the update.
func (m *Model) reestimate(seqs [][][]float64) float64 {
	S, D := m.States, m.Dim
	startAcc := make([]float64, S)
	transAcc := make([][]float64, S)
	gammaSum := make([]float64, S)
	meanAcc := make([][]float64, S)
	sqAcc := make([][]float64, S)
	for i := 0; i < S; i++ {
		transAcc[i] = make([]float64, S)
		meanAcc[i] = make([]float64, D)
		sqAcc[i] = make([]float64, D)
	}

	logA := m.logTrans()
	total := 0.0
	for _, seq := range seqs {
		logB := m.emissions(seq)
		alpha := m.forward(logB, logA)
		beta := m.backward(logB, logA)
		ll := floats.LogSumExp(alpha[len(seq)-1])
		total += ll

		for t, x := range seq {
			for i := 0; i < S; i++ {
				g := math.Exp(alpha[t][i] + beta[t][i] - ll)
				if t == 0 {
					startAcc[i] += g
				}
				gammaSum[i] += g
				for d, v := range x {
					meanAcc[i][d] += g * v
					sqAcc[i][d] += g * v * v
				}
				if t+1 < len(seq) {
					for j := 0; j < S; j++ {
						transAcc[i][j] += math.Exp(alpha[t][i] + logA[i][j] + logB[t+1][j] + beta[t+1][j] - ll)
					}
				}
			}
		}
	}

	floats.Scale(1/float64(len(seqs)), startAcc)
	m.Start = startAcc
	for i := 0; i < S; i++ {
		if rowSum := floats.Sum(transAcc[i]); rowSum > 0 {
			floats.Scale(1/rowSum, transAcc[i])
			m.Trans[i] = transAcc[i]
		}
		if gammaSum[i] == 0 {
			continue
		}
		for d := 0; d < D; d++ {
			mean := meanAcc[i][d] / gammaSum[i]
			m.Means[i][d] = mean
			m.Vars[i][d] = math.Max(sqAcc[i][d]/gammaSum[i]-mean*mean, varianceFloor)
		}
	}
	return total
}
