package deepddi

import (
	"math"
	"math/rand"
	"sort"

	"github.com/turtacn/DDI-Intelligence/pkg/errors"
)

// StratifiedSplit partitions row indices 0..len(y)-1 into train and test so
// that each class keeps its corpus proportion. The test partition holds
// ceil(testFraction*n) rows, distributed over classes by largest remainder
// (ties to the lower class index). Both partitions come back shuffled and
// the result depends only on y, testFraction and seed.
func StratifiedSplit(y []int, numClasses int, testFraction float64, seed int64) (train, test []int, err error) {
	n := len(y)
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, errors.InvalidParam("test fraction must be in (0, 1)").WithDetailf("test_fraction=%g", testFraction)
	}
	if n < 2 {
		return nil, nil, errors.New(errors.ErrCodeEmptyCorpus, "at least two samples are required to split").
			WithDetailf("samples=%d", n)
	}

	byClass := make([][]int, numClasses)
	for i, c := range y {
		if c < 0 || c >= numClasses {
			return nil, nil, errors.InvalidParam("label index out of range").WithDetailf("row=%d label=%d", i, c)
		}
		byClass[c] = append(byClass[c], i)
	}

	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest >= n {
		nTest = n - 1
	}
	alloc := allocateLargestRemainder(byClass, nTest, n)

	rng := rand.New(rand.NewSource(seed))
	train = make([]int, 0, n-nTest)
	test = make([]int, 0, nTest)
	for c, rows := range byClass {
		perm := rng.Perm(len(rows))
		for k, p := range perm {
			if k < alloc[c] {
				test = append(test, rows[p])
			} else {
				train = append(train, rows[p])
			}
		}
	}
	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test, nil
}

func allocateLargestRemainder(byClass [][]int, total, n int) []int {
	type rem struct {
		class int
		frac  float64
	}
	alloc := make([]int, len(byClass))
	rems := make([]rem, 0, len(byClass))
	assigned := 0
	for c, rows := range byClass {
		exact := float64(total) * float64(len(rows)) / float64(n)
		alloc[c] = int(math.Floor(exact))
		assigned += alloc[c]
		rems = append(rems, rem{class: c, frac: exact - float64(alloc[c])})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < total && i < len(rems); i++ {
		c := rems[i].class
		if alloc[c] < len(byClass[c]) {
			alloc[c]++
			assigned++
		}
	}
	return alloc
}
