package domain

import (
	"fmt"
	"strconv"
)

// FormatAmount renders kobo as naira with thousands separators, e.g. ₦1,250.50.
func FormatAmount(kobo int64) string {
	sign := ""
	if kobo < 0 {
		sign = "-"
		kobo = -kobo
	}

	naira := strconv.FormatInt(kobo/100, 10)
	for i := len(naira) - 3; i > 0; i -= 3 {
		naira = naira[:i] + "," + naira[i:]
	}
	return fmt.Sprintf("%s₦%s.%02d", sign, naira, kobo%100)
}
