package main

import (
	"fmt"
	"io"
	"sync/atomic"
)

// confusion counts binary predictions against labels. Safe for concurrent
// use.
type confusion struct {
	truePositives  atomic.Int64
	falsePositives atomic.Int64
	trueNegatives  atomic.Int64
	falseNegatives atomic.Int64
}

func (c *confusion) add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.truePositives.Add(1)
	case predicted && !actual:
		c.falsePositives.Add(1)
	case !predicted && !actual:
		c.trueNegatives.Add(1)
	default:
		c.falseNegatives.Add(1)
	}
}

func (c *confusion) precision() float64 {
	tp, fp := c.truePositives.Load(), c.falsePositives.Load()
	if tp+fp == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fp)
}

func (c *confusion) recall() float64 {
	tp, fn := c.truePositives.Load(), c.falseNegatives.Load()
	if tp+fn == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fn)
}

func (c *confusion) f1() float64 {
	p, r := c.precision(), c.recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func (c *confusion) accuracy() float64 {
	tp, tn := c.truePositives.Load(), c.trueNegatives.Load()
	total := tp + tn + c.falsePositives.Load() + c.falseNegatives.Load()
	if total == 0 {
		return 0
	}
	return float64(tp+tn) / float64(total)
}

func (c *confusion) print(w io.Writer, positive, negative string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "CONFUSION MATRIX")
	fmt.Fprintf(w, "                %-8s  %-8s\n", positive, negative)
	fmt.Fprintf(w, "   fraud      %8d  %8d   (TP, FN)\n", c.truePositives.Load(), c.falseNegatives.Load())
	fmt.Fprintf(w, "   legit      %8d  %8d   (FP, TN)\n", c.falsePositives.Load(), c.trueNegatives.Load())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "   Precision:  %.4f\n", c.precision())
	fmt.Fprintf(w, "   Recall:     %.4f\n", c.recall())
	fmt.Fprintf(w, "   F1-Score:   %.4f\n", c.f1())
	fmt.Fprintf(w, "   Accuracy:   %.4f\n", c.accuracy())
}
