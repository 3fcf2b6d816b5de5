package rag

// ====== Maximal Marginal Relevance ======

// applyMMR 从候选集中选出恰好 min(len(candidates), k) 个结果,
// 在相关性和多样性之间折衷:
//
//	score(c) = lambda*relevance(c) - (1-lambda)*max_sim(c, selected)
//
// relevance 为候选嵌入与原始查询嵌入的余弦相似度。
// 纯 top-k 选择可能返回互相复述同一事实的近重复片段, 浪费上下文预算。
// 候选必须已带嵌入; 缺嵌入的候选 relevance 记 0。
func applyMMR(candidates []Chunk, queryEmbedding []float64, k int, lambda float64) []Chunk {
	if k <= 0 {
		return []Chunk{}
	}
	if len(candidates) <= k {
		// 退化情形: 候选不足, 原样返回
		out := make([]Chunk, len(candidates))
		copy(out, candidates)
		return out
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = cosineSimilarity(queryEmbedding, c.Embedding)
	}

	selected := make([]Chunk, 0, k)
	selectedIdx := make([]int, 0, k)
	used := make([]bool, len(candidates))

	// 首选: 相关性最高的候选
	first := 0
	for i := range candidates {
		if relevance[i] > relevance[first] {
			first = i
		}
	}
	selected = append(selected, candidates[first])
	selectedIdx = append(selectedIdx, first)
	used[first] = true

	for len(selected) < k {
		bestIdx := -1
		bestScore := 0.0
		for i := range candidates {
			if used[i] {
				continue
			}

			maxSim := 0.0
			for _, si := range selectedIdx {
				sim := cosineSimilarity(candidates[i].Embedding, candidates[si].Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}

			score := lambda*relevance[i] - (1-lambda)*maxSim
			if bestIdx == -1 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}
		if bestIdx == -1 {
			break
		}

		selected = append(selected, candidates[bestIdx])
		selectedIdx = append(selectedIdx, bestIdx)
		used[bestIdx] = true
	}

	return selected
}
