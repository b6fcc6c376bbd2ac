/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package iouring

import "syscall"

// SubmitReadAt submits a preadv-style read at a fixed file offset and blocks
// the calling goroutine (not the OS thread — it parks on a channel receive)
// until the kernel completes it. Returns the number of bytes read, or a
// negative errno-derived error on failure.
func (evl *IOUringEventLoop) SubmitReadAt(fd int32, off int64, bufs ...[]byte) (int, error) {
	ud := userDataPoolGet()
	defer userDataPoolPut(ud)
	ud.SetReadOpAt(fd, off, bufs...)
	evl.ring.sqeChan <- ud
	res := ud.Wait()
	if res < 0 {
		return 0, syscall.Errno(-res)
	}
	return int(res), nil
}

// SubmitWriteAt submits a pwritev-style write at a fixed file offset and
// blocks until the kernel completes it (including any short-write retries
// driven by the event loop's handleUserData). Returns the total number of
// bytes written.
func (evl *IOUringEventLoop) SubmitWriteAt(fd int32, off int64, bufs ...[]byte) (int, error) {
	ud := userDataPoolGet()
	defer userDataPoolPut(ud)
	ud.SetWriteOpAt(fd, off, bufs...)
	evl.ring.sqeChan <- ud
	res := ud.Wait()
	if res < 0 {
		return 0, syscall.Errno(-res)
	}
	return int(res), nil
}

// SubmitFsync submits an fsync/fdatasync operation and blocks until it
// completes.
func (evl *IOUringEventLoop) SubmitFsync(fd int32, dataSyncOnly bool) error {
	ud := userDataPoolGet()
	defer userDataPoolPut(ud)
	ud.SetFsyncOp(fd, dataSyncOnly)
	evl.ring.sqeChan <- ud
	res := ud.Wait()
	if res < 0 {
		return syscall.Errno(-res)
	}
	return nil
}

// SubmitFallocate submits a fallocate(2) operation and blocks until it
// completes.
func (evl *IOUringEventLoop) SubmitFallocate(fd int32, mode uint32, off, length int64) error {
	ud := userDataPoolGet()
	defer userDataPoolPut(ud)
	ud.SetFallocateOp(fd, mode, off, length)
	evl.ring.sqeChan <- ud
	res := ud.Wait()
	if res < 0 {
		return syscall.Errno(-res)
	}
	return nil
}

// SubmitOpenAt submits an openat(2) operation and blocks until it completes,
// returning the new file descriptor.
func (evl *IOUringEventLoop) SubmitOpenAt(dirfd int32, path string, flags int, mode uint32) (int, error) {
	ud := userDataPoolGet()
	defer userDataPoolPut(ud)
	ud.SetOpenAtOp(dirfd, path, flags, mode)
	evl.ring.sqeChan <- ud
	res := ud.Wait()
	if res < 0 {
		return 0, syscall.Errno(-res)
	}
	return int(res), nil
}

// SubmitClose submits a close(2) operation and blocks until it completes.
func (evl *IOUringEventLoop) SubmitClose(fd int32) error {
	ud := userDataPoolGet()
	defer userDataPoolPut(ud)
	ud.SetCloseOp(fd)
	evl.ring.sqeChan <- ud
	res := ud.Wait()
	if res < 0 {
		return syscall.Errno(-res)
	}
	return nil
}
