package stream

import (
	"reflect"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"latin punctuation", "Hello, world. How are you?", []string{"Hello", "world", "How are you"}},
		{"cjk punctuation", "你好，世界。再见！", []string{"你好", "世界", "再见"}},
		{"newlines", "line one\nline two\n", []string{"line one", "line two"}},
		{"no boundary", "just one segment", []string{"just one segment"}},
		{"consecutive boundaries", "a,,b", []string{"a", "b"}},
		{"whitespace segments", " , a ,  , b ", []string{"a", "b"}},
		{"empty", "", nil},
		{"only punctuation", "。！？", nil},
		{"semicolons", "first; second；third", []string{"first", "second", "third"}},
	}
	for _, tt := range tests {
		if got := SplitSentences(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: SplitSentences(%q) = %v, want %v", tt.name, tt.in, got, tt.want)
		}
	}
}
