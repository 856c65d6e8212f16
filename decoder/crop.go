package decoder

/*
#cgo pkg-config: libavutil
#include <libavutil/frame.h>
*/
import "C"

import "github.com/richinsley/avpipeline/media"

// applyCropping calls the native library's unaligned crop operation,
// shrinking the frame's reported dimensions by its crop_top/bottom/left/
// right fields without touching the underlying sample buffer.
func applyCropping(f *media.Frame) {
	C.av_frame_apply_cropping((*C.AVFrame)(f.CPtr()), C.AV_FRAME_CROP_UNALIGNED)
}
