package entry

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// maxSeqInSegment returns the highest sequence in a segment. It only
// reads headers and is used for truncation.
func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var maxSeq uint64
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return maxSeq, nil
			}
			return maxSeq, err
		}

		if seq := binary.BigEndian.Uint64(header[1:9]); seq > maxSeq {
			maxSeq = seq
		}

		payloadLen := binary.BigEndian.Uint32(header[17:21])
		if _, err := f.Seek(int64(payloadLen)+4, io.SeekCurrent); err != nil {
			return maxSeq, err
		}
	}
}

// repairTail cuts a torn write off the end of a segment, leaving only
// complete frames. It returns the number of bytes removed.
func repairTail(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := st.Size()

	var offset int64
	header := make([]byte, headerSize)
	for offset < size {
		if size-offset < headerSize {
			break
		}
		if _, err := f.ReadAt(header, offset); err != nil {
			return 0, err
		}
		end := offset + headerSize + int64(binary.BigEndian.Uint32(header[17:21])) + 4
		if end > size {
			break
		}
		offset = end
	}

	if offset == size {
		return 0, nil
	}
	if err := f.Truncate(offset); err != nil {
		return 0, errors.Wrapf(err, "truncate torn tail of %s", path)
	}
	return size - offset, f.Sync()
}
