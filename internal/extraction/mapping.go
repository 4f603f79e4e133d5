package extraction

import (
	"context"
	"log"
	"sort"
)

// MapAndGroup issues the single mapping call and groups the surviving pairs
// by product. Pairs referencing a product or patent absent from the final
// sets are dropped: the mapping can only connect, never introduce. A failed
// mapping call yields an empty mapping, not a failed run.
func MapAndGroup(ctx context.Context, mapper Mapper, final *ChannelResult, text string) map[string][]string {
	products := productNames(final)
	patents := patentCanonicals(final)
	if len(products) == 0 || len(patents) == 0 {
		return map[string][]string{}
	}

	pairs, err := mapper.MapProductsToPatents(ctx, products, patents, text)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[WARN] mapping call failed, emitting empty mapping: %v", err)
		}
		return map[string][]string{}
	}
	return groupPairs(final, pairs)
}

func groupPairs(final *ChannelResult, pairs []MappingPair) map[string][]string {
	grouped := map[string]map[string]struct{}{}
	for _, p := range pairs {
		entry, ok := final.Products[ProductKey(p.Product)]
		if !ok {
			log.Printf("[WARN] mapping references unknown product, dropped: %s", p.Product)
			continue
		}
		if _, ok := final.Patents[p.Patent]; !ok {
			log.Printf("[WARN] mapping references unknown patent, dropped: %s", p.Patent)
			continue
		}
		set, ok := grouped[entry.Name]
		if !ok {
			set = map[string]struct{}{}
			grouped[entry.Name] = set
		}
		set[p.Patent] = struct{}{}
	}

	out := make(map[string][]string, len(grouped))
	for product, set := range grouped {
		patents := make([]string, 0, len(set))
		for pat := range set {
			patents = append(patents, pat)
		}
		sort.Strings(patents)
		out[product] = patents
	}
	return out
}
