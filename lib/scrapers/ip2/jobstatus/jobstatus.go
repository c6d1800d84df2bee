// Package jobstatus parses the javascript blob returned by the IP2 job
// monitor DWR endpoint. The response declares one object per tracked job
// using a fixed line grammar:
//
//	s<index>.<field>=<value>;
//
// where <value> is either a double-quoted string or a bare token. The
// sampleName field carries the dataset name a job was submitted under and
// is the only key callers can correlate on.
package jobstatus

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var NoSuchJob = fmt.Errorf("no search job found for the given dataset")

var lineRegex = regexp.MustCompile(`s(\d+)\.(\w+)=("[^"]*"|[\w\._\-\s]+);`)

// Snapshot is one parse of the job monitor response: field maps keyed by
// the response's internal numeric job index.
type Snapshot struct {
	jobs map[int]map[string]string
}

func Parse(text string) Snapshot {
	jobs := map[int]map[string]string{}
	for _, groups := range lineRegex.FindAllStringSubmatch(text, -1) {
		index, err := strconv.Atoi(groups[1])
		if err != nil {
			continue
		}
		field := groups[2]
		value := groups[3]
		if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			value = value[1 : len(value)-1]
		}

		fields, ok := jobs[index]
		if !ok {
			fields = map[string]string{}
			jobs[index] = fields
		}
		fields[field] = value
	}
	return Snapshot{jobs: jobs}
}

// Job returns the field map of the job whose sampleName matches the given
// dataset name, or NoSuchJob when the dataset is absent from the snapshot
// (e.g. the job is not registered server-side yet).
func (s Snapshot) Job(datasetName string) (map[string]string, error) {
	for _, fields := range s.jobs {
		if fields["sampleName"] == datasetName {
			return fields, nil
		}
	}
	return nil, NoSuchJob
}

// Len reports how many job indices the snapshot contains.
func (s Snapshot) Len() int {
	return len(s.jobs)
}
