package main

import (
	"fmt"
	"strings"

	"k8s.io/klog"
)

// klogLogger implements dfu.Logger on top of klog. Debug messages are shown
// with -v=2 or higher.
type klogLogger struct{}

func (klogLogger) Debug(msg string, kv ...interface{}) {
	if klog.V(2) {
		klog.InfoDepth(1, format(msg, kv))
	}
}

func (klogLogger) Info(msg string, kv ...interface{}) {
	klog.InfoDepth(1, format(msg, kv))
}

func (klogLogger) Error(msg string, kv ...interface{}) {
	klog.ErrorDepth(1, format(msg, kv))
}

// format renders msg followed by key=value pairs.
func format(msg string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v=%v", kv[i], value(kv[i+1]))
		} else {
			fmt.Fprintf(&b, "%v=<missing>", kv[i])
		}
	}
	return b.String()
}

func value(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return fmt.Sprintf("[% X]", b)
	}
	return v
}
