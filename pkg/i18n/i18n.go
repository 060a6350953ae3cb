package i18n

import "strings"

var translations = map[string]string{
	"invalid request":                        "Permintaan tidak valid",
	"receiver id is required":                "Receiver ID diperlukan",
	"invalid user id":                        "ID user tidak valid",
	"invalid message id":                     "ID pesan tidak valid",
	"user cannot be messaged":                "User tidak dapat dihubungi",
	"message cannot be empty":                "Pesan tidak boleh kosong",
	"failed to upload file":                  "Gagal mengupload file",
	"file too large":                         "File terlalu besar",
	"message not found":                      "Pesan tidak ditemukan",
	"user not found":                         "User tidak ditemukan",
	"access denied":                          "Anda tidak memiliki akses",
	"admin access required":                  "Akses ditolak. Hanya admin yang dapat mengakses halaman ini",
	"cannot block an admin":                  "Tidak dapat memblokir admin lain!",
	"cannot deactivate an admin":             "Tidak dapat menonaktifkan admin lain!",
	"cannot delete an admin":                 "Tidak dapat menghapus admin lain!",
	"all fields are required":                "Semua field harus diisi!",
	"username must be at least 3 characters": "Username harus minimal 3 karakter!",
	"username can only contain letters, numbers, and underscores": "Username hanya boleh berisi huruf, angka, dan garis bawah!",
	"password must be at least 6 characters":                      "Password harus minimal 6 karakter!",
	"invalid email address":                                       "Alamat email tidak valid!",
	"username already exists":                                     "Username sudah digunakan!",
	"email already exists":                                        "Email sudah digunakan!",
	"invalid username or password":                                "Username atau password salah!",
	"account is inactive":                                         "Akun Anda tidak aktif. Silakan hubungi admin.",
	"account is blocked":                                          "Akun Anda diblokir. Silakan hubungi admin.",
	"current password is incorrect":                               "Password saat ini salah!",
	"unsupported image format":                                    "Format file tidak didukung. Gunakan JPG, PNG, atau GIF.",
	"missing authorization token":                                 "Token autentikasi tidak ditemukan",
	"invalid token":                                               "Token tidak valid",
	"media storage is not configured":                             "Penyimpanan media belum dikonfigurasi",
	"push notifications are not configured":                       "Notifikasi push belum dikonfigurasi",
	"invalid subscription":                                        "Langganan notifikasi tidak valid",
	"rate limiter error":                                          "Gagal memeriksa batas permintaan",
	"rate limit exceeded":                                         "Terlalu banyak permintaan. Coba lagi nanti.",
	"internal server error":                                       "Terjadi kesalahan pada server",
	"not found":                                                   "Tidak ditemukan",
}

var prefixTranslations = map[string]string{
	"failed to upload file:": "Gagal mengupload file",
	"failed to hash password:": "Gagal memproses password",
	"failed to register user:": "Gagal mendaftarkan user",
}

func Translate(message string) string {
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}
