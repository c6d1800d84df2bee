package jobstatus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const monitorResponse = `var s = [];
s0.sampleName="mudpit_0423";
s0.jobId=20384;
s0.finished=false;
s0.progress=42.5;
s0.user="tester";
s1.sampleName="control run 7";
s1.jobId=20391;
s1.finished=true;
s1.progress=100.0;
dwr.engine._remoteHandleCallback('0','0',s);
`

func TestParse(t *testing.T) {
	snapshot := Parse(monitorResponse)
	require.Equal(t, 2, snapshot.Len())

	running, err := snapshot.Job("mudpit_0423")
	if err != nil {
		t.Fatal(err)
	}
	diff := cmp.Diff(map[string]string{
		"sampleName": "mudpit_0423",
		"jobId":      "20384",
		"finished":   "false",
		"progress":   "42.5",
		"user":       "tester",
	}, running)
	require.Empty(t, diff)

	// quoted values keep inner whitespace, the quotes themselves are
	// stripped
	done, err := snapshot.Job("control run 7")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "true", done["finished"])
	require.Equal(t, "100.0", done["progress"])
}

func TestParseUnknownDataset(t *testing.T) {
	snapshot := Parse(monitorResponse)
	_, err := snapshot.Job("never-submitted")
	require.ErrorIs(t, err, NoSuchJob)
}

func TestParseEmpty(t *testing.T) {
	snapshot := Parse("var s = [];\ndwr.engine._remoteHandleCallback('0','0',s);\n")
	require.Equal(t, 0, snapshot.Len())

	_, err := snapshot.Job("anything")
	require.ErrorIs(t, err, NoSuchJob)
}
