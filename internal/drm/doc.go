// Package drm talks to the kernel DRM/KMS interface through raw ioctls:
// resource, connector, CRTC and plane enumeration, property tables and
// blobs, atomic and legacy commits, dumb buffers, framebuffers and the
// page-flip event stream read back from the device file.
package drm
