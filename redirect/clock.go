package redirect

import "time"

func wallClock() int64 { return time.Now().Unix() }
