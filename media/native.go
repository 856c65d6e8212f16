package media

/*
#cgo pkg-config: libavutil libavcodec
#include <libavutil/avutil.h>
#include <libavutil/error.h>
#include <libavcodec/avcodec.h>

// av_err2str is a macro in the C headers; wrap it so cgo can call it.
static inline const char* av_error_str(int errnum) {
    static char str[AV_ERROR_MAX_STRING_SIZE];
    av_make_error_string(str, AV_ERROR_MAX_STRING_SIZE, errnum);
    return str;
}

static int averror_eagain(void)    { return AVERROR(EAGAIN); }
static int averror_eof(void)        { return AVERROR_EOF; }
*/
import "C"

// ErrorString converts a native negative return code into a human
// description, mirroring the teacher's av_error_str cgo helper.
func ErrorString(code int) string {
	return C.GoString(C.av_error_str(C.int(code)))
}

// EAGAIN is the native "temporarily unavailable" return code.
func EAGAIN() int { return int(C.averror_eagain()) }

// EOF is the native "end of stream" return code.
func EOF() int { return int(C.averror_eof()) }
