package utils

import (
	"strconv"
	"strings"
	"time"
)

// ParseStringTime 解析配置文件中的时间字符串（如 "200ms"、"10s"、"5m"）
func ParseStringTime(timeString string) time.Duration {
	timeString = strings.ToLower(strings.TrimSpace(timeString))

	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"ms", time.Millisecond},
		{"s", time.Second},
		{"m", time.Minute},
		{"h", time.Hour},
		{"d", 24 * time.Hour},
	}

	for _, u := range units {
		if cutString, found := strings.CutSuffix(timeString, u.suffix); found {
			number, err := strconv.Atoi(cutString)
			if err != nil {
				return 0
			}
			return time.Duration(number) * u.unit
		}
	}
	return 0
}

// NowMillis 返回当前的毫秒级时间戳
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NowRFC3339 returns the current UTC time in the wire format used by
// read receipts and message records.
func NowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
