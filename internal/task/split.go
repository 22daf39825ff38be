package task

import "fmt"

// Split は r を最大 n 個の連続した重ならない部分区間に分割する。
// 部分区間の数は min(n, r.Len()) で、余りは先頭側の区間に1つずつ配る
func Split(r Range, n int) []Range {
	length := r.Len()
	if length <= 0 || n <= 0 {
		return nil
	}
	if int64(n) > length {
		n = int(length)
	}

	base := length / int64(n)
	rem := length % int64(n)

	chunks := make([]Range, 0, n)
	from := r.From
	for i := range int64(n) {
		size := base
		if i < rem {
			size++
		}
		chunks = append(chunks, Range{From: from, To: from + size})
		from += size
	}
	return chunks
}

// SumRange は [From, To) の整数和を返す。和が int64 に収まらなければ ErrSumOverflow
func SumRange(r Range) (int64, error) {
	var sum int64
	var err error
	for i := r.From; i < r.To; i++ {
		if sum, err = AddSum(sum, i); err != nil {
			return 0, fmt.Errorf("%w: range %s", err, r)
		}
	}
	return sum, nil
}

// AddSum は部分和 a と b を加算する。結果が int64 に収まらなければ ErrSumOverflow
func AddSum(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, fmt.Errorf("%w: %d + %d", ErrSumOverflow, a, b)
	}
	return s, nil
}
