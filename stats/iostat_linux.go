//go:build linux

package stats

import (
	"os"
	"strconv"
	"strings"
)

// readDriveStats parses /proc/diskstats; sector counts are reported in
// 512-byte units regardless of the device's physical sector size.
func readDriveStats() ([]DiskSample, error) {
	raw, err := os.ReadFile("/proc/diskstats")
	if err != nil {
		return nil, err
	}
	var out []DiskSample
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		readSectors, err1 := strconv.ParseInt(fields[5], 10, 64)
		writeSectors, err2 := strconv.ParseInt(fields[9], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, DiskSample{
			Name:       fields[2],
			ReadBytes:  readSectors * 512,
			WriteBytes: writeSectors * 512,
		})
	}
	return out, nil
}
