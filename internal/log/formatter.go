package log

import (
	"fmt"
	"path"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// formatter renders entries with a pattern made of %time, %level, %field,
// %msg, %caller, %func and %goroutine. Every entry ends with a newline.
type formatter struct {
	pattern string
	time    string
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	callerName, funcName := "-", "-"
	if strings.Contains(f.pattern, "%caller") || strings.Contains(f.pattern, "%func") {
		if fr, ok := callerFrame(); ok {
			callerName, funcName = describeFrame(fr)
		}
	}
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", strings.ToUpper(entry.Level.String()),
		"%field", buildFields(entry),
		"%msg", entry.Message,
		"%caller", callerName,
		"%func", funcName,
		"%goroutine", goroutineID(),
	)
	out := strings.TrimRight(r.Replace(f.pattern), " ")
	return append([]byte(out), '\n'), nil
}

// callerFrame finds the first frame above logrus and the adapter.
func callerFrame() (runtime.Frame, bool) {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	seenLogrus := false
	for {
		fr, more := frames.Next()
		switch {
		case strings.HasPrefix(fr.Function, "github.com/sirupsen/logrus."):
			seenLogrus = true
		case seenLogrus && fr.File != "<autogenerated>" && !strings.Contains(fr.Function, ".logrusAdapter."):
			return fr, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

// describeFrame returns "package/file.go:line" and the bare function name.
func describeFrame(fr runtime.Frame) (string, string) {
	fn := fr.Function
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	pkg, name := fn, fn
	if i := strings.Index(fn, "."); i >= 0 {
		pkg = fn[:i]
	}
	if i := strings.LastIndex(fn, "."); i >= 0 {
		name = fn[i+1:]
	}
	return fmt.Sprintf("%s/%s:%d", pkg, path.Base(fr.File), fr.Line), name
}

func goroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))
	if len(fields) == 0 {
		return "-"
	}
	return fields[0]
}

// buildFields renders entry data as sorted key=value pairs.
func buildFields(entry *logrus.Entry) string {
	if len(entry.Data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprint(&b, entry.Data[k])
	}
	return b.String()
}
