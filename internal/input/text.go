package input

import (
	"bufio"
	"os"

	"github.com/rotisserie/eris"
)

// ReadText reads one query per line.
func ReadText(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if q, ok := cleanLine(sc.Text()); ok {
			out = append(out, q)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "input: read %s", path)
	}
	return out, nil
}
