package analyzer

import (
	"path/filepath"
	"strings"

	"palicanon/internal/domain"
)

// InferBasket guesses the basket from a corpus-relative path. Anything not
// under a vinaya or abhidhamma directory is treated as sutta.
func InferBasket(relPath string) domain.Basket {
	for _, seg := range pathSegments(relPath) {
		switch {
		case strings.Contains(seg, "vinaya"):
			return domain.BasketVinaya
		case strings.Contains(seg, "abhidhamma"), strings.HasPrefix(seg, "abhi"):
			return domain.BasketAbhidhamma
		}
	}
	return domain.BasketSutta
}

var nikayaHints = []struct {
	keys   []string
	nikaya domain.Nikaya
}{
	{[]string{"digha", "dialogues", "long_discourses", "long discourses"}, domain.NikayaDN},
	{[]string{"majjhima", "middle_length", "middle length", "handful_of_leaves"}, domain.NikayaMN},
	{[]string{"samyutta", "connected_discourses", "connected discourses"}, domain.NikayaSN},
	{[]string{"anguttara", "numerical_discourses", "numerical discourses", "gradual_sayings"}, domain.NikayaAN},
	{[]string{"khuddaka", "dhammapada", "udana", "itivuttaka", "sutta_nipata", "suttanipata", "theragatha", "therigatha", "jataka"}, domain.NikayaKN},
}

// InferNikaya guesses the nikaya of a sutta document from its path. The file
// name wins over directory names so "handful_of_leaves/samyutta.pdf" maps to SN.
// Returns NikayaNone for vinaya and abhidhamma paths or when nothing matches.
func InferNikaya(relPath string) domain.Nikaya {
	if InferBasket(relPath) != domain.BasketSutta {
		return domain.NikayaNone
	}

	segs := pathSegments(relPath)
	if len(segs) == 0 {
		return domain.NikayaNone
	}
	base := segs[len(segs)-1]
	if n := nikayaFromPrefix(base); n != domain.NikayaNone {
		return n
	}
	if n := nikayaFromHints(base); n != domain.NikayaNone {
		return n
	}
	for i := len(segs) - 2; i >= 0; i-- {
		if n := nikayaFromHints(segs[i]); n != domain.NikayaNone {
			return n
		}
		if n := nikayaFromPrefix(segs[i]); n != domain.NikayaNone {
			return n
		}
	}
	return domain.NikayaNone
}

// nikayaFromPrefix recognises names like "mn1.pdf", "sn_35.txt" or "dn".
func nikayaFromPrefix(seg string) domain.Nikaya {
	if len(seg) < 2 {
		return domain.NikayaNone
	}
	var n domain.Nikaya
	switch seg[:2] {
	case "dn":
		n = domain.NikayaDN
	case "mn":
		n = domain.NikayaMN
	case "sn":
		n = domain.NikayaSN
	case "an":
		n = domain.NikayaAN
	default:
		return domain.NikayaNone
	}
	if len(seg) == 2 {
		return n
	}
	switch c := seg[2]; {
	case c >= '0' && c <= '9', c == '_', c == '-', c == '.', c == ' ':
		return n
	}
	return domain.NikayaNone
}

func nikayaFromHints(seg string) domain.Nikaya {
	for _, h := range nikayaHints {
		for _, k := range h.keys {
			if strings.Contains(seg, k) {
				return h.nikaya
			}
		}
	}
	return domain.NikayaNone
}

func pathSegments(relPath string) []string {
	p := strings.ToLower(Fold(filepath.ToSlash(relPath)))
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			segs = append(segs, s)
		}
	}
	return segs
}
