// Package pus encodes and decodes the application data of time-based
// scheduling telecommands and reports (service type 11).
package pus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/tcsched/internal/ccsds"
	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/report"
	"github.com/gyaneshwarpardhi/tcsched/internal/request"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
)

// ServiceType is the service type of time-based scheduling.
const ServiceType = 11

// Message subtypes.
const (
	SubtypeEnable        uint8 = 1
	SubtypeDisable       uint8 = 2
	SubtypeReset         uint8 = 3
	SubtypeInsert        uint8 = 4
	SubtypeDeleteByID    uint8 = 5
	SubtypeShiftByID     uint8 = 7
	SubtypeDetailByID    uint8 = 9
	SubtypeDetailReport  uint8 = 10
	SubtypeSummaryByID   uint8 = 12
	SubtypeSummaryReport uint8 = 13
	SubtypeShiftAll      uint8 = 15
	SubtypeDetailAll     uint8 = 16
	SubtypeSummaryAll    uint8 = 17
)

const (
	// TimeLen is the size of an absolute time field: 4 octets of coarse
	// seconds and 2 octets of fraction.
	TimeLen  = 6
	idLen    = 4
	countLen = 2
	deltaLen = 4
)

var (
	ErrMalformed      = errors.New("pus: malformed application data")
	ErrUnknownSubtype = errors.New("pus: unknown subtype")
)

// Decode turns the application data of a TC[11,subtype] into a request.
//
// Insert data is decoded leniently: the declared count, every element that
// could be delimited and any leftover octets are passed on so that the
// scheduler can reject the batch. All other subtypes are decoded strictly.
func Decode(subtype uint8, data []byte) (request.Request, error) {
	switch subtype {
	case SubtypeEnable:
		return request.Enable{}, expectEmpty(data)
	case SubtypeDisable:
		return request.Disable{}, expectEmpty(data)
	case SubtypeReset:
		return request.Reset{}, expectEmpty(data)
	case SubtypeInsert:
		return decodeInsert(data)
	case SubtypeDeleteByID:
		ids, err := decodeIDs(data)
		if err != nil {
			return nil, err
		}
		return request.DeleteByID{IDs: ids}, nil
	case SubtypeShiftByID:
		if len(data) < deltaLen {
			return nil, fmt.Errorf("%w: shift offset missing", ErrMalformed)
		}
		ids, err := decodeIDs(data[deltaLen:])
		if err != nil {
			return nil, err
		}
		return request.ShiftByID{Delta: int32(binary.BigEndian.Uint32(data)), IDs: ids}, nil
	case SubtypeShiftAll:
		if len(data) != deltaLen {
			return nil, fmt.Errorf("%w: shift-all expects %d octets, got %d", ErrMalformed, deltaLen, len(data))
		}
		return request.ShiftAll{Delta: int32(binary.BigEndian.Uint32(data))}, nil
	case SubtypeDetailByID:
		ids, err := decodeIDs(data)
		if err != nil {
			return nil, err
		}
		return request.DetailReport{Selection: request.Selection{IDs: ids}}, nil
	case SubtypeSummaryByID:
		ids, err := decodeIDs(data)
		if err != nil {
			return nil, err
		}
		return request.SummaryReport{Selection: request.Selection{IDs: ids}}, nil
	case SubtypeDetailAll:
		return request.DetailReport{Selection: request.Selection{All: true}}, expectEmpty(data)
	case SubtypeSummaryAll:
		return request.SummaryReport{Selection: request.Selection{All: true}}, expectEmpty(data)
	}
	return nil, fmt.Errorf("%w: TC[%d,%d]", ErrUnknownSubtype, ServiceType, subtype)
}

func expectEmpty(data []byte) error {
	if len(data) != 0 {
		return fmt.Errorf("%w: unexpected %d octets", ErrMalformed, len(data))
	}
	return nil
}

func decodeIDs(data []byte) ([]schedule.ActivityID, error) {
	if len(data) < countLen {
		return nil, fmt.Errorf("%w: id count missing", ErrMalformed)
	}
	n := int(binary.BigEndian.Uint16(data))
	body := data[countLen:]
	if len(body) != n*idLen {
		return nil, fmt.Errorf("%w: %d ids need %d octets, got %d", ErrMalformed, n, n*idLen, len(body))
	}
	ids := make([]schedule.ActivityID, n)
	for i := range ids {
		ids[i] = schedule.ActivityID{
			APID:     binary.BigEndian.Uint16(body[i*idLen:]),
			SeqCount: binary.BigEndian.Uint16(body[i*idLen+2:]),
		}
	}
	return ids, nil
}

func decodeInsert(data []byte) (request.Request, error) {
	if len(data) < countLen {
		return nil, fmt.Errorf("%w: insert count missing", ErrMalformed)
	}
	req := request.Insert{DeclaredCount: int(binary.BigEndian.Uint16(data))}
	rest := data[countLen:]
	for i := 0; i < req.DeclaredCount && len(rest) >= TimeLen; i++ {
		at := decodeTime(rest)
		rest = rest[TimeLen:]
		size := len(rest)
		if h, err := ccsds.ParseHeader(rest); err == nil && h.PacketLen() <= len(rest) {
			size = h.PacketLen()
		}
		// A short element keeps whatever octets remain; validation rejects it.
		req.Items = append(req.Items, request.InsertItem{ReleaseTime: at, Payload: rest[:size:size]})
		rest = rest[size:]
	}
	req.Trailing = len(rest)
	return req, nil
}

func decodeTime(b []byte) obtime.Time {
	return obtime.New(binary.BigEndian.Uint32(b), binary.BigEndian.Uint16(b[4:]))
}

func appendTime(b []byte, t obtime.Time) []byte {
	b = binary.BigEndian.AppendUint32(b, t.Coarse)
	return binary.BigEndian.AppendUint16(b, t.Fine)
}

func appendIDs(b []byte, ids []schedule.ActivityID) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(ids)))
	for _, id := range ids {
		b = binary.BigEndian.AppendUint16(b, id.APID)
		b = binary.BigEndian.AppendUint16(b, id.SeqCount)
	}
	return b
}

// Encode produces the subtype and application data of a request.
func Encode(r request.Request) (uint8, []byte) {
	switch r := r.(type) {
	case request.Enable:
		return SubtypeEnable, nil
	case request.Disable:
		return SubtypeDisable, nil
	case request.Reset:
		return SubtypeReset, nil
	case request.Insert:
		b := binary.BigEndian.AppendUint16(nil, uint16(len(r.Items)))
		for _, it := range r.Items {
			b = appendTime(b, it.ReleaseTime)
			b = append(b, it.Payload...)
		}
		return SubtypeInsert, b
	case request.DeleteByID:
		return SubtypeDeleteByID, appendIDs(nil, r.IDs)
	case request.ShiftByID:
		b := binary.BigEndian.AppendUint32(nil, uint32(r.Delta))
		return SubtypeShiftByID, appendIDs(b, r.IDs)
	case request.ShiftAll:
		return SubtypeShiftAll, binary.BigEndian.AppendUint32(nil, uint32(r.Delta))
	case request.DetailReport:
		if r.All {
			return SubtypeDetailAll, nil
		}
		return SubtypeDetailByID, appendIDs(nil, r.IDs)
	case request.SummaryReport:
		if r.All {
			return SubtypeSummaryAll, nil
		}
		return SubtypeSummaryByID, appendIDs(nil, r.IDs)
	}
	panic(fmt.Sprintf("pus: unhandled request type %T", r))
}

// EncodeReport renders a report as the application data of TM[11,10]
// (detail) or TM[11,13] (summary).
func EncodeReport(r report.Report) (uint8, []byte) {
	b := binary.BigEndian.AppendUint16(nil, uint16(r.Count()))
	if r.Kind == report.KindSummary {
		for _, e := range r.Entries {
			b = appendTime(b, e.ReleaseTime)
			b = binary.BigEndian.AppendUint16(b, e.APID)
			b = binary.BigEndian.AppendUint16(b, e.SeqCount)
		}
		return SubtypeSummaryReport, b
	}
	for _, e := range r.Entries {
		b = binary.BigEndian.AppendUint16(b, e.APID)
		b = binary.BigEndian.AppendUint16(b, e.SeqCount)
		b = appendTime(b, e.ReleaseTime)
		b = binary.BigEndian.AppendUint16(b, uint16(len(e.Payload)))
		b = append(b, e.Payload...)
	}
	return SubtypeDetailReport, b
}
