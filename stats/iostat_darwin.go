//go:build darwin

package stats

import "github.com/lufia/iostat"

func readDriveStats() ([]DiskSample, error) {
	drives, err := iostat.ReadDriveStats()
	if err != nil {
		return nil, err
	}
	out := make([]DiskSample, 0, len(drives))
	for _, dr := range drives {
		out = append(out, DiskSample{Name: dr.Name, ReadBytes: dr.BytesRead, WriteBytes: dr.BytesWritten})
	}
	return out, nil
}
