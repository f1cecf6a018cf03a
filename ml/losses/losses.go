// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package losses implements the training loss.
package losses

import (
	"math"

	. "github.com/gomlx/exceptions"

	"github.com/samflow/samflow/types/mat32"
)

// SparseCategoricalCrossEntropyLogits returns the mean cross-entropy of
// the logits against integer class labels, and the gradient of that
// mean w.r.t. the logits ((softmax - onehot)/batch).
//
// Softmax is computed with the usual max-subtraction for stability.
func SparseCategoricalCrossEntropyLogits(logits *mat32.Matrix, labels []int32) (loss float32, grad *mat32.Matrix) {
	if logits.Rows != len(labels) {
		Panicf("cross-entropy: %d logit rows for %d labels", logits.Rows, len(labels))
	}
	if logits.Rows == 0 {
		Panicf("cross-entropy: empty batch")
	}
	n := logits.Rows
	classes := logits.Cols
	grad = mat32.New(n, classes)
	var total float64
	invN := float32(1) / float32(n)
	for i := 0; i < n; i++ {
		label := labels[i]
		if label < 0 || int(label) >= classes {
			Panicf("cross-entropy: label %d out of range [0, %d)", label, classes)
		}
		row := logits.Row(i)
		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}
		var sumExp float64
		for _, v := range row {
			sumExp += math.Exp(float64(v - maxLogit))
		}
		logSumExp := math.Log(sumExp)
		total += logSumExp - float64(row[label]-maxLogit)

		gRow := grad.Row(i)
		for j, v := range row {
			p := math.Exp(float64(v-maxLogit)) / sumExp
			gRow[j] = float32(p) * invN
		}
		gRow[label] -= invN
	}
	return float32(total / float64(n)), grad
}
