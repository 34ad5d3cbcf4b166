// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package decompose converts one aligned record's CIGAR into a flat sequence
// of positioned elements.
package decompose

import (
	"fmt"

	"github.com/biogo/hts/sam"

	"github.com/googlegenomics/readstage/internal/element"
)

var (
	haplotypeTag = sam.NewTag("HP")
	readGroupTag = sam.NewTag("RG")
)

// DecodeError indicates a record whose CIGAR or tags cannot be interpreted.
// Callers should skip the record and continue with the rest of the source.
type DecodeError struct {
	QueryName string
	Cause     error
}

func (err *DecodeError) Error() string {
	return fmt.Sprintf("decoding record %q: %v", err.QueryName, err.Cause)
}

func (err *DecodeError) Unwrap() error { return err.Cause }

// Record decomposes one alignment into elements and merges each element's
// width contribution into mask.
//
// The returned rows start with a single Read element spanning the whole
// alignment footprint, followed by one element per CIGAR feature in CIGAR
// order.  Reference coordinates are 1-based; read offsets into the stored
// sequence are tracked 1-based and sliced 0-based.
func Record(rec *sam.Record, contig, readGroup, sample string, mask element.WidthMask) ([]element.Element, error) {
	seq := rec.Seq.Expand()

	proto := element.Element{
		Contig:     contig,
		IsForward:  rec.Flags&sam.Reverse == 0,
		QueryName:  rec.Name,
		Haplotype:  Haplotype(rec),
		ReadGroup:  readGroup,
		SampleName: sample,
	}

	refPos := uint32(rec.Pos) + 1
	readPos := uint32(1)

	read := proto
	read.Kind = element.Read
	read.ReferenceStart = refPos
	read.ReferenceEnd = uint32(rec.End())
	rows := []element.Element{read}

	base := func() (byte, error) {
		if int(readPos) > len(seq) {
			return 0, &DecodeError{rec.Name, fmt.Errorf("cigar consumes %d bases but sequence has %d", readPos, len(seq))}
		}
		return seq[readPos-1], nil
	}

	for i, co := range rec.Cigar {
		length := uint32(co.Len())
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual:
			refPos += length
			readPos += length

		case sam.CigarInsertion:
			lo := int(readPos) - 1
			hi := lo + int(length)
			if hi > len(seq) {
				return nil, &DecodeError{rec.Name, fmt.Errorf("insertion of %d bases at read offset %d overruns sequence of %d", length, lo, len(seq))}
			}
			ins := proto
			ins.Kind = element.Insertion
			ins.ReferenceStart = refPos - 1
			ins.ReferenceEnd = refPos
			ins.Sequence = string(seq[lo:hi])
			rows = append(rows, ins)
			mask.Update(refPos-1, length)
			readPos += length

		case sam.CigarDeletion:
			del := proto
			del.Kind = element.Deletion
			del.ReferenceStart = refPos
			del.ReferenceEnd = refPos + length
			rows = append(rows, del)
			mask.Update(refPos, length)
			refPos += length

		case sam.CigarMismatch:
			// Runs of mismatches become one single-base row each.
			for k := uint32(0); k < length; k++ {
				b, err := base()
				if err != nil {
					return nil, err
				}
				diff := proto
				diff.Kind = element.Diff
				diff.ReferenceStart = refPos
				diff.ReferenceEnd = refPos + 1
				diff.Sequence = string(b)
				rows = append(rows, diff)
				mask.Update(refPos, 1)
				refPos++
				readPos++
			}

		case sam.CigarSkipped:
			refPos += length

		case sam.CigarSoftClipped:
			// A leading clip hangs off the left of the alignment start; any
			// other clip extends right from the current reference cursor.
			anchor := refPos
			if i == 0 {
				if length < refPos {
					anchor = refPos - length
				} else {
					anchor = 1
				}
			}
			for k := uint32(0); k < length; k++ {
				b, err := base()
				if err != nil {
					return nil, err
				}
				clip := proto
				clip.Kind = element.SoftClip
				clip.ReferenceStart = anchor
				clip.ReferenceEnd = anchor + 1
				clip.Sequence = string(b)
				rows = append(rows, clip)
				mask.Update(anchor, 1)
				anchor++
				readPos++
			}

		case sam.CigarHardClipped, sam.CigarPadded:
			// Consumes neither reference nor stored sequence.

		default:
			return nil, &DecodeError{rec.Name, fmt.Errorf("unsupported cigar operation %v", co.Type())}
		}
	}

	return rows, nil
}

// Haplotype returns the record's HP tag as an integer, or 0 when the record
// is untagged.
func Haplotype(rec *sam.Record) int32 {
	aux := rec.AuxFields.Get(haplotypeTag)
	if aux == nil {
		return 0
	}
	switch v := aux.Value().(type) {
	case int8:
		return int32(v)
	case uint8:
		return int32(v)
	case int16:
		return int32(v)
	case uint16:
		return int32(v)
	case int32:
		return v
	case uint32:
		return int32(v)
	case int:
		return int32(v)
	default:
		return 0
	}
}

// ReadGroup returns the record's RG tag, or false when the record carries
// none.
func ReadGroup(rec *sam.Record) (string, bool) {
	aux := rec.AuxFields.Get(readGroupTag)
	if aux == nil {
		return "", false
	}
	if rg, ok := aux.Value().(string); ok {
		return rg, true
	}
	return "", false
}
