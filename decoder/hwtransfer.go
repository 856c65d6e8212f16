package decoder

/*
#cgo pkg-config: libavutil
#include <libavutil/frame.h>
#include <libavutil/hwcontext.h>
*/
import "C"

import (
	"github.com/richinsley/avpipeline/errs"
	"github.com/richinsley/avpipeline/media"
)

// transferToSoftware implements video post-processing step 1: if a
// software transfer target format is configured and the frame is in
// hardware memory, allocate a software frame of that format, transfer the
// hardware contents into it, copy props across, and replace the frame the
// caller holds.
func (d *Decoder) transferToSoftware(f *media.Frame) (*media.Frame, error) {
	if d.kind != media.KindVideo || d.opts.SoftwareTransferFormat == 0 || !f.HasHWFramesContext() {
		return f, nil
	}

	sw := media.NewVideoFrame()
	swPtr := (*C.AVFrame)(sw.CPtr())
	swPtr.format = C.int(d.opts.SoftwareTransferFormat)

	srcPtr := (*C.AVFrame)(f.CPtr())
	if ret := C.av_hwframe_transfer_data(swPtr, srcPtr, 0); ret < 0 {
		sw.Free()
		return nil, errs.NewNativeError("av_hwframe_transfer_data", int(ret), media.ErrorString(int(ret)))
	}
	C.av_frame_copy_props(swPtr, srcPtr)

	f.Free()
	return sw, nil
}
