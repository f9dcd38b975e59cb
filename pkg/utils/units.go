package utils

import "fmt"

type unit struct {
	shift uint
	name  string
}

var (
	byteUnits  = []unit{{30, "GiB"}, {20, "MiB"}, {10, "KiB"}}
	countUnits = []unit{{30, "Giga"}, {20, "Mega"}, {10, "Kilo"}}
)

func format(n uint64, units []unit, sep, fallback string) string {
	for _, u := range units {
		if n>>u.shift != 0 {
			return fmt.Sprintf("%.2f%v%v", float64(n)/float64(uint64(1)<<u.shift), sep, u.name)
		}
	}

	return fmt.Sprintf("%v%v", n, fallback)
}

// FormatBytes renders n with the largest binary unit it fills, e.g. "1.50MiB".
func FormatBytes(n uint64) string {
	return format(n, byteUnits, "", "B")
}

// FormatCount renders n with the largest binary prefix it fills, e.g. "16.00 Mega".
func FormatCount(n uint64) string {
	return format(n, countUnits, " ", "")
}
