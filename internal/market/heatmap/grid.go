package heatmap

import "math"

// Grid 稠密的 子桶 × 价格桶 买卖量矩阵
// 所有格子从 0 开始累加，哪怕没有任何成交也要出现在结果里
type Grid struct {
	Buckets []PriceBucket
	Buy     [][]float64 // [subPeriod][bucketIdx]
	Sell    [][]float64
}

func NewGrid(periods int, buckets []PriceBucket) *Grid {
	g := &Grid{
		Buckets: buckets,
		Buy:     make([][]float64, periods),
		Sell:    make([][]float64, periods),
	}
	for i := 0; i < periods; i++ {
		g.Buy[i] = make([]float64, len(buckets))
		g.Sell[i] = make([]float64, len(buckets))
	}
	return g
}

// FoldPoint 按均价把整份量记入单个桶 (半开区间判定，顶桶闭合)
func (g *Grid) FoldPoint(period int, avgPrice, buy, sell float64) {
	if period < 0 || period >= len(g.Buy) {
		return
	}
	idx := FindBucket(g.Buckets, avgPrice)
	if idx < 0 {
		idx = NearestBucket(g.Buckets, avgPrice)
	}
	if idx < 0 {
		return
	}
	g.Buy[period][idx] += buy
	g.Sell[period][idx] += sell
}

// FoldRange 把一段 [low, high] 价格范围内产生的量按重叠宽度比例摊到各桶
// 范围退化 (low==high 或不与任何桶相交) 时整份量记到中点最近的桶
func (g *Grid) FoldRange(period int, low, high, buy, sell float64) {
	if period < 0 || period >= len(g.Buy) {
		return
	}
	if high < low {
		low, high = high, low
	}

	total := high - low
	if total > 0 {
		attributed := false
		for i, b := range g.Buckets {
			overlap := math.Min(high, b.Max) - math.Max(low, b.Min)
			if overlap <= 0 {
				continue
			}
			ratio := overlap / total
			g.Buy[period][i] += buy * ratio
			g.Sell[period][i] += sell * ratio
			attributed = true
		}
		if attributed {
			return
		}
	}

	// 退化范围：整份量归最近的桶
	mid := (low + high) / 2
	if idx := NearestBucket(g.Buckets, mid); idx >= 0 {
		g.Buy[period][idx] += buy
		g.Sell[period][idx] += sell
	}
}
