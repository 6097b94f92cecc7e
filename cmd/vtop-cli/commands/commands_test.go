package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vtopassist-backend/internal/timetable"
	"vtopassist-backend/internal/vtop/vtoptest"

	"github.com/stretchr/testify/require"
)

const page = `<div id="getStudentDetails"><div class="table-responsive"><table class="table">
	<tr><th>Header</th></tr>
	<tr>
		<td>1</td><td>x</td>
		<td><p>CSE1002 - Problem Solving and Programming</p><p>( Embedded Lab )</p></td>
		<td>0 0 4 0 2</td><td></td><td></td><td></td>
		<td><p>L3+L4 -</p><p>SJT-516</p></td>
		<td><p>DR. ANITA SHARMA - SCOPE</p></td>
	</tr>
	<tr><td colspan="9">Total Number Of Credits: <b>2</b></td></tr>
</table></div></div>
<table id="timeTableStyle">
	<tr><td rowspan="2">MON</td><td>THEORY</td></tr>
	<tr><td>LAB</td><td></td><td></td><td colspan="2">L3-CSE1002-ELA-SJT-516-ALL</td></tr>
</table>`

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestParseCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timetable.html")
	require.NoError(t, os.WriteFile(path, []byte(page), 0644))

	out := run(t, "", "parse", path)
	require.Contains(t, out, "CSE1002")
	require.Contains(t, out, "Problem Solving and Programming")
	require.Contains(t, out, "09:50 - 10:40")

	out = run(t, "", "parse", "--json", path)
	var schedule timetable.ParsedSchedule
	require.NoError(t, json.Unmarshal([]byte(out), &schedule))
	require.Len(t, schedule.Courses, 1)
	require.Equal(t, "2", schedule.TotalCredits)
	require.Equal(t, 2, schedule.Grid.Occupied())
}

func TestCaptchaFile(t *testing.T) {
	image, ext, err := captchaFile("data:image/jpeg;base64,aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, "jpg", ext)
	require.Equal(t, []byte("hello"), image)

	_, ext, err = captchaFile("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, "png", ext)

	_, _, err = captchaFile("/vtop/get/new/captcha")
	require.Error(t, err)
	_, _, err = captchaFile("data:image/png;base64,***")
	require.Error(t, err)
}

func TestPromptSecretOutsideTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(path, []byte("hunter2\n"), 0644))
	file, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	cases := []struct {
		name string
		raw  io.Reader
	}{
		{name: "reader", raw: strings.NewReader("hunter2\n")},
		{name: "regular file", raw: file},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			secret, err := promptSecret(tc.raw, bufio.NewReader(tc.raw), out, "Password")
			require.NoError(t, err)
			require.Equal(t, "hunter2", secret)
			require.Equal(t, "Password: ", out.String())
		})
	}
}

func TestLoginCommand(t *testing.T) {
	t.Setenv("VTOP_PASSWORD", "")
	portal := vtoptest.New(t, vtoptest.Config{Timetable: []byte(page)})
	captchaPath := filepath.Join(t.TempDir(), "captcha")

	out := run(t,
		portal.Config.Password+"\n"+portal.Config.Captcha+"\n",
		"login",
		"--base-url", portal.BaseUrl(),
		"--username", portal.Config.Username,
		"--captcha", captchaPath,
	)

	require.Contains(t, out, "Welcome, "+portal.Config.Username+"!")
	require.Contains(t, out, "CSE1002")
	require.FileExists(t, captchaPath+".jpg")
	require.Equal(t, vtoptest.Semesters[0], portal.Semester())
}
